// Package service wraps the driver so it can be installed and run as an
// OS-managed background service (systemd, launchd, Windows service) in
// addition to running as an ordinary foreground process.
package service

import (
	"github.com/kardianos/service"
	"github.com/sirupsen/logrus"
)

// svcConfig describes the installed service's identity.
var svcConfig = &service.Config{
	Name:        "ppk2d",
	DisplayName: "PPK2 Power Profiler Driver",
	Description: "Streams power measurements from a USB power profiler.",
}

// program adapts a start/stop pair of functions to kardianos/service's
// Program interface.
type program struct {
	start func() error
	stop  func() error
	log   *logrus.Entry
}

func (p *program) Start(s service.Service) error {
	if err := p.start(); err != nil {
		return err
	}
	return nil
}

func (p *program) Stop(s service.Service) error {
	return p.stop()
}

// Wrap runs start in the background when launched under a service
// manager, and invokes stop when the manager asks the service to shut
// down. Outside of a service manager (a plain foreground run), Wrap calls
// start directly and blocks until it returns.
func Wrap(log *logrus.Entry, start func() error, stop func() error) error {
	prg := &program{start: start, stop: stop, log: log}
	s, err := service.New(prg, svcConfig)
	if err != nil {
		// Not running under any recognized service manager: fall back to
		// a plain foreground run.
		log.WithError(err).Debug("service: no service manager detected, running in foreground")
		return start()
	}
	return s.Run()
}

// Control installs, uninstalls, starts, or stops the OS service
// registration without running the program itself. action is one of the
// kardianos/service control actions: "install", "uninstall", "start",
// "stop", "restart".
func Control(action string) error {
	prg := &program{start: func() error { return nil }, stop: func() error { return nil }}
	s, err := service.New(prg, svcConfig)
	if err != nil {
		return err
	}
	return service.Control(s, action)
}
