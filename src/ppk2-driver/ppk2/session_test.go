package ppk2

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

// fakePort is an in-memory Port backed by canned responses, one per
// expected write. It lets session tests exercise the command/response
// loop without a real serial device.
type fakePort struct {
	writes    [][]byte
	responses [][]byte
	readBuf   []byte
	closed    bool
	resetN    int
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.writes = append(p.writes, append([]byte(nil), b...))
	if len(p.responses) > 0 {
		p.readBuf = append(p.readBuf, p.responses[0]...)
		p.responses = p.responses[1:]
	}
	return len(b), nil
}

func (p *fakePort) Read(buf []byte) (int, error) {
	if len(p.readBuf) == 0 {
		return 0, io.EOF
	}
	n := copy(buf, p.readBuf)
	p.readBuf = p.readBuf[n:]
	return n, nil
}

func (p *fakePort) Close() error { p.closed = true; return nil }

func (p *fakePort) ResetInputBuffer() error {
	p.resetN++
	return nil
}

func TestSessionOpenReadsMetadataAndSetsMode(t *testing.T) {
	port := &fakePort{responses: [][]byte{
		[]byte(referenceMetadata),
		nil, // SetPowerMode response
	}}

	s, err := Open(port, Ampere, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.Metadata().VDDMillivolts != 3741 {
		t.Fatalf("VDDMillivolts = %d, want 3741", s.Metadata().VDDMillivolts)
	}
	if s.Metadata().Mode != Ampere {
		t.Fatalf("Mode = %v, want Ampere (set after metadata was parsed)", s.Metadata().Mode)
	}
	if len(port.writes) != 2 {
		t.Fatalf("expected 2 writes (GetMetaData, SetPowerMode), got %d", len(port.writes))
	}
	if port.writes[0][0] != opGetMetaData {
		t.Fatalf("first write opcode = %#x, want GetMetaData", port.writes[0][0])
	}
	if port.writes[1][0] != opSetPowerMode || port.writes[1][1] != byte(Ampere) {
		t.Fatalf("second write = % X, want SetPowerMode(Ampere)", port.writes[1])
	}
}

func TestSessionOpenPropagatesParseError(t *testing.T) {
	port := &fakePort{responses: [][]byte{[]byte("garbage with no key separator\nEND\n")}}
	if _, err := Open(port, Ampere, nil); err == nil {
		t.Fatalf("expected Open to fail when metadata fails to parse")
	}
}

func TestSessionSendCommandZeroLengthResponseSkipsRead(t *testing.T) {
	port := &fakePort{}
	s := &Session{port: port, metadata: DefaultMetadata()}

	// RegulatorSet has no terminator, so completion is by expected_response_len
	// (0 for this command, so the empty buffer is already complete and no
	// read is made; the fake port would return io.EOF if one were).
	resp, err := s.SendCommand(RegulatorSet(SourceVoltageFromMillivolts(3300)))
	if err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	if len(resp) != 0 {
		t.Fatalf("expected empty response, got % X", resp)
	}
	want := []byte{0x0D, 0x0C, 0xE4}
	if !bytes.Equal(port.writes[0], want) {
		t.Fatalf("wrote % X, want % X", port.writes[0], want)
	}
}

func TestSessionPortExposesUnderlyingTransport(t *testing.T) {
	port := &fakePort{}
	s := &Session{port: port}
	if s.Port() != port {
		t.Fatalf("Port() did not return the underlying transport")
	}
}

func TestSessionCloseClosesPort(t *testing.T) {
	port := &fakePort{}
	s := &Session{port: port}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !port.closed {
		t.Fatalf("expected underlying port to be closed")
	}
}

func TestSessionSendCommandPropagatesWriteError(t *testing.T) {
	s := &Session{port: &erroringPort{}}
	if _, err := s.SendCommand(NoOp()); err == nil {
		t.Fatalf("expected a write error to propagate")
	}
}

type erroringPort struct{ fakePort }

func (p *erroringPort) Write([]byte) (int, error) { return 0, errors.New("boom") }
