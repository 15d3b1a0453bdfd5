package bridge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ahihi/nocturnal/internal/bridgecfg"
	"github.com/ahihi/nocturnal/internal/interp"
	"github.com/ahihi/nocturnal/internal/surfacesvc"
)

type nopEndpoint struct{}

func (nopEndpoint) Run(ctx context.Context, sink EndpointSink) error { return nil }
func (nopEndpoint) Send(resp interp.Response) error                  { return nil }

func newTestBridge(log *zap.Logger, mappings []bridgecfg.Mapping) *Bridge {
	return &Bridge{
		log:         log,
		interpreter: atomic.NewPointer(interp.New(zap.NewNop(), mappings)),
		queue:       atomic.NewPointer[writeQueue](nil),
		endpoint:    nopEndpoint{},
	}
}

// Dropped events must surface as warnings: they are the only signal an
// operator gets that a control or message went nowhere.
func TestUnmappedEventsWarn(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	b := newTestBridge(zap.New(core), nil)

	b.handleCtrl(surfacesvc.CtrlEvent{Num: 0x10, Val: 0x7f})
	entries := logs.FilterMessage("unmapped control").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zap.WarnLevel, entries[0].Level)
}

func TestMappedEventDoesNotWarn(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	ctrlIn := uint8(0x10)
	b := newTestBridge(zap.New(core), []bridgecfg.Mapping{{
		Name:   "pad",
		Kind:   bridgecfg.CtrlKindOnOff,
		Mode:   "raw",
		CtrlIn: &ctrlIn,
	}})

	b.handleCtrl(surfacesvc.CtrlEvent{Num: 0x10, Val: 0x7f})
	assert.Equal(t, 0, logs.Len())
}
