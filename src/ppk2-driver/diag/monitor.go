// Package diag provides lightweight runtime diagnostics for the running
// driver process: periodic memory/goroutine logging and sample-rate
// accounting for a running measurement.
package diag

import (
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
)

// StartRuntimeMonitor logs memory and goroutine counts on a fixed
// interval until stop is closed. It is meant to run as its own goroutine
// for the lifetime of the process.
func StartRuntimeMonitor(log *logrus.Entry, interval time.Duration, stop <-chan struct{}) {
	var m runtime.MemStats
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			runtime.ReadMemStats(&m)
			log.WithField("sysMem", m.Sys/1024).WithField("routines", runtime.NumGoroutine()).Info("diag: runtime snapshot")
		}
	}
}

// RateCounter tracks the observed throughput of reduced samples, logging
// a warning when the rate falls well short of the configured target —
// typically a sign of a struggling USB connection or an overloaded
// consumer.
type RateCounter struct {
	target int
	log    *logrus.Entry

	count     int
	lastCheck time.Time
}

// NewRateCounter creates a RateCounter for a stream with the given target
// samples-per-second.
func NewRateCounter(target int, log *logrus.Entry) *RateCounter {
	return &RateCounter{target: target, log: log}
}

// Tick records one reduced sample and, once a second has elapsed since the
// last check, compares the observed rate to the target.
func (r *RateCounter) Tick(now time.Time) {
	if r.lastCheck.IsZero() {
		r.lastCheck = now
	}
	r.count++

	elapsed := now.Sub(r.lastCheck)
	if elapsed < time.Second {
		return
	}

	observed := float64(r.count) / elapsed.Seconds()
	if observed < 0.5*float64(r.target) {
		r.log.WithField("target", r.target).WithField("observed", observed).Warn("diag: sample rate well below target")
	}
	r.count = 0
	r.lastCheck = now
}
