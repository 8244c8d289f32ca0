package client

import (
	"context"
	"strings"
)

// Segment is one unit of transcribed speech from the capture bridge.
// Interim segments carry Final=false and are discarded; only completed
// segments reach the relay.
type Segment struct {
	Text  string
	Final bool
}

// SegmentSource is the speech-to-text bridge. The sequence is lazy and
// effectively infinite; restarting capture after a natural end is the
// bridge's own responsibility.
type SegmentSource interface {
	Segments() <-chan Segment
}

// Sender accepts finalized text for relay. *Manager satisfies it.
type Sender interface {
	Send(text string) error
}

// Pump forwards finalized, non-empty segments to the sender until the
// source closes or ctx is cancelled. Send errors are not retried; the relay
// protocol is fire and forget.
func Pump(ctx context.Context, s Sender, src SegmentSource) {
	segments := src.Segments()

	for {
		select {
		case <-ctx.Done():
			return
		case segment, ok := <-segments:
			if !ok {
				return
			}

			if !segment.Final {
				continue
			}

			if strings.TrimSpace(segment.Text) == "" {
				continue
			}

			_ = s.Send(segment.Text)
		}
	}
}
