package ppk2

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// SPSMax is the instrument's documented ceiling on raw samples per
// second; SPSMax/sps is the integer averaging factor used to size the
// chunk reducer's window. Confirm against the target device's firmware
// revision before deployment.
const SPSMax = 90_000

// sampleChannelCapacity bounds the handoff channel between the reader
// goroutine and the consumer. The bound is what applies backpressure: a
// stalled consumer blocks the reader's send, which in turn blocks the
// reader's next port.Read, which leaves bytes queued in the OS serial
// buffer instead of growing unbounded host memory.
const sampleChannelCapacity = 1024

// ActiveSession is returned by Session.Start. It exposes only the
// reduced-sample stream and a way to stop; all other Session operations
// are unavailable until Stop returns the original Session. This plays
// the role an Idle/Measuring typestate would, without needing one.
type ActiveSession struct {
	// Samples delivers one ChunkMatch per averaging window until the
	// session is stopped or the reader encounters a fatal error, at
	// which point the channel is closed.
	Samples <-chan ChunkMatch

	stop func() (*Session, error)
}

// Stop signals the reader to exit, waits for it to do so, issues
// AverageStop, and returns the Session so it can be reused or reset.
// Calling Stop more than once is a programmer error; like closing an
// already-closed channel, it will panic.
func (a *ActiveSession) Stop() (*Session, error) {
	return a.stop()
}

// Start begins streaming reduced samples from the device.
//
// pattern, if non-nil, is a pin-match filter applied by the chunk
// reducer; nil means every sample matches. sps is the target number of
// reduced output samples per second and must be in [1, SPSMax].
//
// The port backing the session must implement ClonablePort: the reader
// goroutine needs an independent read handle so it can proceed
// concurrently with the foreground's writes.
func (s *Session) Start(pattern *LogicPortPins, sps int) (*ActiveSession, error) {
	if sps < 1 || sps > SPSMax {
		return nil, fmt.Errorf("ppk2: sps %d out of range [1, %d]", sps, SPSMax)
	}

	clonable, ok := s.port.(ClonablePort)
	if !ok {
		return nil, fmt.Errorf("ppk2: port does not support cloning a read handle for streaming")
	}
	readerPort, err := clonable.Clone()
	if err != nil {
		return nil, fmt.Errorf("ppk2: clone serial handle: %w", err)
	}

	// Metadata is a value type (arrays, not slices), so this copy is a
	// real clone: the reader's accumulator cannot observe later changes
	// to s.metadata.
	metadata := s.metadata

	sampleCh := make(chan ChunkMatch, sampleChannelCapacity)
	stopCh := make(chan struct{})

	var readyMu sync.Mutex
	readyCond := sync.NewCond(&readyMu)
	ready := false

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer close(sampleCh)
		runReader(readerConfig{
			port:     readerPort,
			metadata: metadata,
			pattern:  pattern,
			sps:      sps,
			readyMu:  &readyMu,
			readyCond: readyCond,
			ready:    &ready,
			stopCh:   stopCh,
			out:      sampleCh,
			log:      s.log,
		})
	}()

	// Clear any residual bytes before releasing the reader, so decoding
	// starts on a sample-word boundary.
	if err := s.port.ResetInputBuffer(); err != nil {
		readerPort.Close()
		return nil, fmt.Errorf("ppk2: clear input buffer: %w", err)
	}

	readyMu.Lock()
	ready = true
	readyMu.Unlock()
	readyCond.Broadcast()

	if _, err := s.SendCommand(AverageStart()); err != nil {
		return nil, fmt.Errorf("ppk2: start averaging: %w", err)
	}

	stop := func() (*Session, error) {
		close(stopCh)
		<-done
		if _, err := s.SendCommand(AverageStop()); err != nil {
			s.log.WithError(err).Warn("ppk2: failed to stop averaging on device during shutdown")
		}
		return s, nil
	}

	return &ActiveSession{Samples: sampleCh, stop: stop}, nil
}

type readerConfig struct {
	port      Port
	metadata  Metadata
	pattern   *LogicPortPins
	sps       int
	readyMu   *sync.Mutex
	readyCond *sync.Cond
	ready     *bool
	stopCh    <-chan struct{}
	out       chan<- ChunkMatch
	log       *logrus.Entry
}

// runReader is the background reader's main loop: wait for the
// foreground's input-buffer clear, then repeatedly read raw bytes,
// decode them into Measurements, and drain the accumulated window into
// the chunk reducer once it reaches the target size.
func runReader(cfg readerConfig) {
	defer cfg.port.Close()

	cfg.readyMu.Lock()
	for !*cfg.ready {
		cfg.readyCond.Wait()
	}
	cfg.readyMu.Unlock()

	accumulator := NewAccumulator(cfg.metadata)
	window := SPSMax / cfg.sps
	samples := make([]Measurement, 0, window*2)
	missed := 0
	buf := make([]byte, 1024)

	for {
		select {
		case <-cfg.stopCh:
			return
		default:
		}

		n, err := cfg.port.Read(buf)
		if err != nil {
			cfg.log.WithError(err).Error("ppk2: stream reader stopped on read error")
			return
		}

		missed += accumulator.FeedInto(buf[:n], &samples)

		if len(samples) >= window {
			chunk := ReduceChunk(samples, missed, cfg.pattern)
			samples = samples[:0]
			missed = 0

			// Intentionally blocking: backpressure on a full channel is
			// the bounded channel's entire purpose (see
			// sampleChannelCapacity). A stuck consumer after Stop has
			// been requested is the caller's responsibility to avoid by
			// draining Samples until it observes closure.
			cfg.out <- chunk
		}
	}
}
