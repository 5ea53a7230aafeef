package wsstream

import (
	"testing"
	"time"

	"github.com/nrfconnect/ppk2-driver/src/ppk2-driver/ppk2"
)

func TestToWireMatched(t *testing.T) {
	c := ppk2.ChunkMatch{
		Matched: true,
		Measurement: ppk2.Measurement{
			MicroAmps: 12.5,
			Pins:      ppk2.LogicPortPinsFromByte(0b00000101),
		},
	}
	w := toWire(c)
	if !w.Matched {
		t.Fatalf("expected Matched = true")
	}
	if w.MicroAmps != 12.5 {
		t.Fatalf("MicroAmps = %v, want 12.5", w.MicroAmps)
	}
	if w.Pins == nil || *w.Pins != "10100000" {
		got := "<nil>"
		if w.Pins != nil {
			got = *w.Pins
		}
		t.Fatalf("Pins = %v, want 10100000", got)
	}
}

func TestToWireNoMatch(t *testing.T) {
	w := toWire(ppk2.ChunkMatch{})
	if w.Matched {
		t.Fatalf("expected Matched = false for a zero-value ChunkMatch")
	}
	if w.Pins != nil {
		t.Fatalf("expected no Pins field for a non-match")
	}
}

func TestPinsString(t *testing.T) {
	pins := ppk2.LogicPortPinsFromByte(0xFF)
	if got := pinsString(pins); got != "11111111" {
		t.Fatalf("pinsString(0xFF) = %q, want 11111111", got)
	}
}

func TestServerPublishWithNoSubscribersDoesNotBlock(t *testing.T) {
	s := NewServer(nil)
	defer s.Shutdown()

	done := make(chan struct{})
	go func() {
		s.Publish(ppk2.ChunkMatch{Matched: true, Measurement: ppk2.Measurement{MicroAmps: 1}})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Publish blocked with no subscribers")
	}
}
