package sink

import (
	"bytes"
	"strings"
	"testing"

	"github.com/nrfconnect/ppk2-driver/src/ppk2-driver/ppk2"
)

func word(adc uint32, rng uint8, counter uint8, pins byte) uint32 {
	return (adc & 0x3FFF) | uint32(rng&0x7)<<14 | uint32(counter&0x3F)<<18 | uint32(pins)<<24
}

func TestFileWriterWritesMeasurementLine(t *testing.T) {
	var buf bytes.Buffer
	w := NewFileWriter(&buf, ppk2.DefaultMetadata())

	if err := w.WriteWord(word(100, 0, 0, 0)); err != nil {
		t.Fatalf("WriteWord: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	line := strings.TrimSpace(buf.String())
	if strings.HasPrefix(line, "?") {
		t.Fatalf("expected a measurement line, got %q", line)
	}
	if !strings.Contains(line, ".") {
		t.Fatalf("expected a decimal measurement line, got %q", line)
	}
}

func TestFileWriterWritesMissedPlaceholder(t *testing.T) {
	var buf bytes.Buffer
	w := NewFileWriter(&buf, ppk2.DefaultMetadata())

	if err := w.WriteWord(word(100, 0, 0, 0)); err != nil {
		t.Fatalf("WriteWord: %v", err)
	}
	// Counter jumps from 0 (expecting 1 next) straight to 3.
	if err := w.WriteWord(word(100, 0, 3, 0)); err != nil {
		t.Fatalf("WriteWord: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %q", len(lines), lines)
	}
	if lines[1] != "?1-3" {
		t.Fatalf("missed placeholder line = %q, want %q", lines[1], "?1-3")
	}
}

func TestFileWriterFirstSampleNeverMissed(t *testing.T) {
	var buf bytes.Buffer
	w := NewFileWriter(&buf, ppk2.DefaultMetadata())

	if err := w.WriteWord(word(100, 0, 40, 0)); err != nil {
		t.Fatalf("WriteWord: %v", err)
	}
	w.Flush()

	if strings.HasPrefix(buf.String(), "?") {
		t.Fatalf("the very first sample must never be reported as missed, got %q", buf.String())
	}
}

func TestFileWriterWriteRaw(t *testing.T) {
	var buf bytes.Buffer
	w := NewFileWriter(&buf, ppk2.DefaultMetadata())

	raw := make([]byte, 0, 8)
	for _, c := range []uint8{0, 1} {
		wd := word(100, 0, c, 0)
		raw = append(raw, byte(wd), byte(wd>>8), byte(wd>>16), byte(wd>>24))
	}
	if err := w.WriteRaw(raw); err != nil {
		t.Fatalf("WriteRaw: %v", err)
	}
	w.Flush()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
}

func TestFileWriterWriteRawRetainsPartialWordAcrossCalls(t *testing.T) {
	var buf bytes.Buffer
	w := NewFileWriter(&buf, ppk2.DefaultMetadata())

	var raw []byte
	for _, c := range []uint8{0, 1, 2} {
		wd := word(100, 0, c, 0)
		raw = append(raw, byte(wd), byte(wd>>8), byte(wd>>16), byte(wd>>24))
	}

	// Split the 12-byte stream at non-4-byte-aligned offsets, as a real
	// serial read would: 5 bytes, then 3, then the remaining 4.
	if err := w.WriteRaw(raw[0:5]); err != nil {
		t.Fatalf("WriteRaw 1: %v", err)
	}
	if err := w.WriteRaw(raw[5:8]); err != nil {
		t.Fatalf("WriteRaw 2: %v", err)
	}
	if err := w.WriteRaw(raw[8:12]); err != nil {
		t.Fatalf("WriteRaw 3: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3 (one per sample, none dropped): %q", len(lines), lines)
	}
	for _, line := range lines {
		if strings.HasPrefix(line, "?") {
			t.Fatalf("unexpected missed-sample placeholder from a misaligned read split: %q", line)
		}
	}
}
