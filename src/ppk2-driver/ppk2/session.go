package ppk2

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// Port is the minimal contract a Session needs from a serial transport:
// a byte stream with an input-buffer clear operation. Opening the port,
// baud rate, flow control, and timeout configuration are the transport's
// responsibility, not this package's.
type Port interface {
	io.ReadWriteCloser
	ResetInputBuffer() error
}

// ClonablePort is a Port that can hand out an independent handle to the
// same underlying device, so reads (owned by the streaming pipeline's
// reader) and writes (owned by the foreground) can proceed without
// locking. Transports that cannot duplicate an OS handle may implement
// this by reopening the same device path.
type ClonablePort interface {
	Port
	Clone() (Port, error)
}

// Session owns a device's serial port and its most recently read
// Metadata. Until Start is called, the session has exclusive use of the
// port; Start hands a cloned read handle to a background reader and
// keeps writes on the foreground.
type Session struct {
	port     Port
	metadata Metadata
	log      *logrus.Entry
}

// Open configures a freshly connected device: it reads the device's
// metadata and applies mode. The caller is responsible for having opened
// port at the correct baud rate, flow control, and read timeout.
func Open(port Port, mode MeasurementMode, log *logrus.Entry) (*Session, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Session{port: port, metadata: DefaultMetadata(), log: log}

	md, err := s.GetMetadata()
	if err != nil {
		return nil, fmt.Errorf("ppk2: read metadata: %w", err)
	}
	s.metadata = md

	if err := s.SetPowerMode(mode); err != nil {
		return nil, fmt.Errorf("ppk2: set power mode: %w", err)
	}
	return s, nil
}

// Metadata returns the device metadata read at Open.
func (s *Session) Metadata() Metadata { return s.metadata }

// Port exposes the session's underlying transport for callers that drive
// their own raw read loop against an Accumulator directly (the CLI's
// unchunked file-output mode, in particular) instead of using Start's
// chunked pipeline. It must not be called concurrently with Start, which
// expects exclusive foreground use of the port until Stop.
func (s *Session) Port() Port { return s.port }

// SendCommand writes cmd to the device and reads its response, 128 bytes
// at a time, until cmd.ResponseComplete reports the buffer is complete.
func (s *Session) SendCommand(cmd Command) ([]byte, error) {
	if _, err := s.port.Write(cmd.Bytes()); err != nil {
		return nil, fmt.Errorf("ppk2: write command: %w", err)
	}

	response := make([]byte, 0, cmd.ExpectedResponseLen())
	buf := make([]byte, 128)
	for !cmd.ResponseComplete(response) {
		n, err := s.port.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("ppk2: read response: %w", err)
		}
		response = append(response, buf[:n]...)
	}
	return response, nil
}

// GetMetadata re-reads and parses the device's calibration block. It
// does not update the session's stored Metadata; callers that want that
// should assign the result themselves before starting a new stream.
func (s *Session) GetMetadata() (Metadata, error) {
	resp, err := s.SendCommand(GetMetaData())
	if err != nil {
		return Metadata{}, err
	}
	md, err := ParseMetadata(resp)
	if err != nil {
		return Metadata{}, err
	}
	return md, nil
}

// SetSourceVoltage sets the device's regulator setpoint, in millivolts.
func (s *Session) SetSourceVoltage(mv uint16) error {
	_, err := s.SendCommand(RegulatorSet(SourceVoltageFromMillivolts(mv)))
	if err != nil {
		return fmt.Errorf("ppk2: set source voltage: %w", err)
	}
	return nil
}

// SetDevicePower enables or disables the device's output regulator.
func (s *Session) SetDevicePower(p DevicePower) error {
	_, err := s.SendCommand(DeviceRunningSet(p))
	if err != nil {
		return fmt.Errorf("ppk2: set device power: %w", err)
	}
	return nil
}

// SetPowerMode selects what the ADC measures.
func (s *Session) SetPowerMode(mode MeasurementMode) error {
	_, err := s.SendCommand(SetPowerMode(mode))
	if err != nil {
		return err
	}
	s.metadata.Mode = mode
	return nil
}

// Reset issues the device reset command. The session must not be used
// afterwards.
func (s *Session) Reset() error {
	_, err := s.SendCommand(Reset())
	if err != nil {
		return fmt.Errorf("ppk2: reset: %w", err)
	}
	return nil
}

// Close releases the underlying port without resetting the device.
func (s *Session) Close() error {
	return s.port.Close()
}
