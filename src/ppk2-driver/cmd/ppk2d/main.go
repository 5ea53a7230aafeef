// Command ppk2d opens a USB power profiler, configures it, and streams
// measurements either to a file (raw, one line per sample) or to any
// number of WebSocket clients (reduced chunks, at a configurable rate).
package main

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/denisbrodbeck/machineid"
	"github.com/sirupsen/logrus"

	"github.com/nrfconnect/ppk2-driver/src/ppk2-driver/config"
	"github.com/nrfconnect/ppk2-driver/src/ppk2-driver/diag"
	"github.com/nrfconnect/ppk2-driver/src/ppk2-driver/ppk2"
	"github.com/nrfconnect/ppk2-driver/src/ppk2-driver/service"
	"github.com/nrfconnect/ppk2-driver/src/ppk2-driver/sink"
	"github.com/nrfconnect/ppk2-driver/src/ppk2-driver/transport"
	"github.com/nrfconnect/ppk2-driver/src/ppk2-driver/wsstream"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log := newLogger(cfg.LogLevel)
	if id, err := machineid.ProtectedID("ppk2-driver"); err == nil {
		log = log.WithField("machineId", id)
	} else {
		log.WithError(err).Debug("main: could not determine machine id")
	}

	pattern, err := config.ParsePinPattern(cfg.PinPattern)
	if err != nil {
		log.WithError(err).Fatal("main: invalid pin pattern")
	}

	stopCh := make(chan struct{})

	start := func() error {
		go func() {
			if err := run(cfg, pattern, log, stopCh); err != nil {
				log.WithError(err).Error("main: driver exited with error")
			}
		}()
		return nil
	}
	stop := func() error {
		close(stopCh)
		return nil
	}

	if err := service.Wrap(log, start, stop); err != nil {
		log.WithError(err).Fatal("main: service failed")
	}
}

func newLogger(level string) *logrus.Entry {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if lvl, err := logrus.ParseLevel(level); err == nil {
		log.SetLevel(lvl)
	} else {
		log.SetLevel(logrus.InfoLevel)
	}
	return logrus.NewEntry(log)
}

// run owns the device connection for the process lifetime: it reconnects
// with backoff on failure, and exits cleanly when stopCh is closed.
func run(cfg config.Config, pattern *ppk2.LogicPortPins, log *logrus.Entry, stopCh <-chan struct{}) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go diag.StartRuntimeMonitor(log, 30*time.Second, stopCh)

	for {
		select {
		case <-stopCh:
			return nil
		default:
		}

		session, err := connect(cfg, log)
		if err != nil {
			return fmt.Errorf("main: giving up connecting to device: %w", err)
		}

		done := make(chan struct{})
		var sessionErr error
		go func() {
			defer close(done)
			sessionErr = runSession(cfg, pattern, session, log)
		}()

		select {
		case <-stopCh:
			<-done
			return nil
		case <-sigCh:
			<-done
			return nil
		case <-done:
			if sessionErr != nil {
				log.WithError(sessionErr).Warn("main: session ended, reconnecting")
				continue
			}
			return nil
		}
	}
}

// connect discovers (if needed) and opens the device, retrying with
// exponential backoff; the device does not tolerate being hammered with
// reconnect attempts.
func connect(cfg config.Config, log *logrus.Entry) (*ppk2.Session, error) {
	var session *ppk2.Session

	op := func() error {
		path := cfg.SerialPort
		if path == "" {
			info, err := transport.Find(log)
			if err != nil {
				return err
			}
			path = info.Path
		}

		port, err := transport.Open(path)
		if err != nil {
			return err
		}

		s, err := ppk2.Open(port, cfg.Mode, log)
		if err != nil {
			port.Close()
			return err
		}
		session = s
		return nil
	}

	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     500 * time.Millisecond,
		RandomizationFactor: 0.5,
		Multiplier:          2,
		MaxInterval:         30 * time.Second,
		MaxElapsedTime:      0, // retry indefinitely; the caller owns overall lifetime via stopCh
		Clock:               backoff.SystemClock,
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// runSession configures a freshly opened device and drives either the raw
// file sink or the chunked WebSocket stream until the device errors out.
func runSession(cfg config.Config, pattern *ppk2.LogicPortPins, session *ppk2.Session, log *logrus.Entry) error {
	defer session.Close()

	if err := session.SetSourceVoltage(cfg.VoltageMV); err != nil {
		return err
	}
	if err := session.SetDevicePower(cfg.Power); err != nil {
		return err
	}

	if cfg.OutFile != "" {
		return runFileMode(cfg, session, log)
	}
	return runStreamMode(cfg, pattern, session, log)
}

func runFileMode(cfg config.Config, session *ppk2.Session, log *logrus.Entry) error {
	f, err := os.OpenFile(cfg.OutFile, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("main: %w", err)
	}
	defer f.Close()

	if _, err := session.SendCommand(ppk2.AverageStart()); err != nil {
		return err
	}
	defer session.SendCommand(ppk2.AverageStop())

	w := sink.NewFileWriter(f, session.Metadata())
	defer w.Flush()

	port := session.Port()
	buf := make([]byte, 1024)
	for {
		n, err := port.Read(buf)
		if err != nil {
			return err
		}
		if err := w.WriteRaw(buf[:n]); err != nil {
			return err
		}
	}
}

func runStreamMode(cfg config.Config, pattern *ppk2.LogicPortPins, session *ppk2.Session, log *logrus.Entry) error {
	active, err := session.Start(pattern, cfg.SamplesPerSec)
	if err != nil {
		return err
	}

	rate := diag.NewRateCounter(cfg.SamplesPerSec, log)

	if !cfg.Serve {
		for range active.Samples {
			rate.Tick(time.Now())
		}
		_, err := active.Stop()
		return err
	}

	server := wsstream.NewServer(log)
	defer server.Shutdown()

	mux := http.NewServeMux()
	mux.Handle("/", server)
	httpServer := &http.Server{Addr: cfg.ServeAddr, Handler: mux}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("main: WebSocket server stopped")
		}
	}()
	defer httpServer.Close()

	if port, err := portOf(cfg.ServeAddr); err != nil {
		log.WithError(err).Debug("main: could not determine serve port, skipping mDNS advertisement")
	} else if advertised, err := wsstream.Advertise(fmt.Sprintf("ppk2-%d", session.Metadata().HW), port); err == nil {
		defer advertised.Shutdown()
	} else {
		log.WithError(err).Debug("main: mDNS advertisement failed, continuing without it")
	}

	for chunk := range active.Samples {
		server.Publish(chunk)
		rate.Tick(time.Now())
	}

	_, err = active.Stop()
	return err
}

// portOf extracts the numeric port from a "host:port" listen address.
func portOf(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(portStr)
}
