package surfacesvc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReport(t *testing.T) {
	type testCase struct {
		name     string
		buf      []byte
		expected []CtrlEvent
	}
	testCases := []testCase{
		{
			name: "empty",
			buf:  nil,
		},
		{
			name:     "single pair",
			buf:      []byte{0x48, 0x7f},
			expected: []CtrlEvent{{Num: 0x48, Val: 0x7f}},
		},
		{
			name:     "sentinel prefix",
			buf:      []byte{0xb0, 0x48, 0x7f},
			expected: []CtrlEvent{{Num: 0x48, Val: 0x7f}},
		},
		{
			name: "sentinel between pairs",
			buf:  []byte{0xb0, 0x48, 0x7f, 0xb0, 0x49, 0x00},
			expected: []CtrlEvent{
				{Num: 0x48, Val: 0x7f},
				{Num: 0x49, Val: 0x00},
			},
		},
		{
			name: "sentinel as value is data",
			buf:  []byte{0x48, 0xb0},
			expected: []CtrlEvent{
				{Num: 0x48, Val: 0xb0},
			},
		},
		{
			name:     "trailing odd byte ignored",
			buf:      []byte{0x48, 0x7f, 0x49},
			expected: []CtrlEvent{{Num: 0x48, Val: 0x7f}},
		},
		{
			name: "lone sentinel",
			buf:  []byte{0xb0},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, ParseReport(tc.buf))
		})
	}
}

func TestAddressString(t *testing.T) {
	addr := Address{VendorID: 0x17cc, ProductID: 0x1410, Interface: 3}
	assert.Equal(t, "17cc:1410:3", addr.String())
}

func TestParseAddress(t *testing.T) {
	addr, err := ParseAddress("17cc:1410:3")
	require.NoError(t, err)
	assert.Equal(t, Address{VendorID: 0x17cc, ProductID: 0x1410, Interface: 3}, addr)

	_, err = ParseAddress("not-an-address")
	assert.Error(t, err)
}
