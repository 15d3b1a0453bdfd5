package surfacesvc

// CtrlEvent is one decoded (control number, value) pair from an interrupt
// report.
type CtrlEvent struct {
	Num uint8
	Val uint8
}

// reportSentinel marks the start of a report inside the interrupt buffer.
// It is framing, not data, and is skipped when it appears where a control
// number is expected.
const reportSentinel = 0xb0

// ParseReport decodes a raw interrupt read buffer into control events. The
// buffer is a flat byte array: sentinel bytes are skipped, everything else is
// consumed in (number, value) pairs. A trailing odd byte is ignored.
func ParseReport(buf []byte) []CtrlEvent {
	var events []CtrlEvent
	i := 0
	for i+1 < len(buf) {
		if buf[i] == reportSentinel {
			i++
			continue
		}
		events = append(events, CtrlEvent{Num: buf[i], Val: buf[i+1]})
		i += 2
	}
	return events
}
