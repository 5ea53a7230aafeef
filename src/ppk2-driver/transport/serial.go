// Package transport opens and discovers the serial port a power profiler
// is attached on, and adapts go.bug.st/serial to the ppk2.ClonablePort
// contract the core package needs for its streaming pipeline.
package transport

import (
	"fmt"
	"time"

	"go.bug.st/serial"

	"github.com/nrfconnect/ppk2-driver/src/ppk2-driver/ppk2"
)

// baudRate is fixed by the device; it does not negotiate a rate.
const baudRate = 9600

// readTimeout bounds how long a Read call blocks with no data available.
// The streaming reader relies on Read returning periodically even when
// idle, so it can notice a requested stop.
const readTimeout = 500 * time.Millisecond

// SerialPort wraps a go.bug.st/serial port, remembering the device path so
// Clone can reopen it for the streaming pipeline's reader goroutine.
type SerialPort struct {
	path string
	port serial.Port
}

var _ ppk2.ClonablePort = (*SerialPort)(nil)

func mode() *serial.Mode {
	return &serial.Mode{
		BaudRate: baudRate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
}

// Open opens the serial device at path and configures it for the
// device's fixed baud rate and read timeout.
func Open(path string) (*SerialPort, error) {
	port, err := serial.Open(path, mode())
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", path, err)
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("transport: set read timeout on %s: %w", path, err)
	}
	return &SerialPort{path: path, port: port}, nil
}

func (s *SerialPort) Read(p []byte) (int, error)  { return s.port.Read(p) }
func (s *SerialPort) Write(p []byte) (int, error) { return s.port.Write(p) }
func (s *SerialPort) Close() error                { return s.port.Close() }

// ResetInputBuffer discards any bytes the OS has buffered but not yet
// delivered to Read.
func (s *SerialPort) ResetInputBuffer() error { return s.port.ResetInputBuffer() }

// Clone reopens the same device path as an independent handle. The
// go.bug.st/serial API has no OS-level handle-duplication primitive, so a
// second open is the closest equivalent; the device itself tolerates being
// opened from two file descriptors for split read/write use.
func (s *SerialPort) Clone() (ppk2.Port, error) {
	return Open(s.path)
}
