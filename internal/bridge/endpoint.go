// Package bridge connects one surface device to one protocol endpoint. It
// owns the device I/O loops, the write queue feeding LED feedback back to the
// surface, and the interpreter that translates between the two sides.
package bridge

import (
	"context"

	"github.com/scgolang/osc"
	"gitlab.com/gomidi/midi/v2"

	"github.com/ahihi/nocturnal/internal/interp"
)

// EndpointSink receives inbound protocol traffic. The bridge implements it;
// endpoints call it from their receive loops.
type EndpointSink interface {
	HandleOSC(msg osc.Message)
	HandleMIDI(msg midi.Message)
}

// Endpoint is one protocol side of the bridge. Run blocks until ctx is done
// or the transport fails; Send is safe to call concurrently with Run and
// transmits whichever part of the response the endpoint speaks.
type Endpoint interface {
	Run(ctx context.Context, sink EndpointSink) error
	Send(resp interp.Response) error
}
