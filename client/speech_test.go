package client

import (
	"context"
	"testing"
	"time"
)

type fakeSource struct {
	ch chan Segment
}

func (f *fakeSource) Segments() <-chan Segment { return f.ch }

type recordingSender struct {
	sent []string
}

func (r *recordingSender) Send(text string) error {
	r.sent = append(r.sent, text)
	return nil
}

func TestPumpForwardsFinalSegmentsOnly(t *testing.T) {
	src := &fakeSource{ch: make(chan Segment, 8)}
	src.ch <- Segment{Text: "hel", Final: false}
	src.ch <- Segment{Text: "hello", Final: true}
	src.ch <- Segment{Text: "   ", Final: true}
	src.ch <- Segment{Text: "world", Final: true}
	close(src.ch)

	sender := &recordingSender{}
	Pump(context.Background(), sender, src)

	if len(sender.sent) != 2 || sender.sent[0] != "hello" || sender.sent[1] != "world" {
		t.Fatalf("unexpected forwarded segments: %v", sender.sent)
	}
}

func TestPumpStopsOnCancel(t *testing.T) {
	src := &fakeSource{ch: make(chan Segment)}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		Pump(ctx, &recordingSender{}, src)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pump did not stop on cancellation")
	}
}
