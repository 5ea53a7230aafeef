package transport

import (
	"strings"

	"github.com/google/gousb"
	"github.com/sirupsen/logrus"
	"go.bug.st/serial/enumerator"

	"github.com/nrfconnect/ppk2-driver/src/ppk2-driver/ppk2"
)

// Vendor and product ID the instrument enumerates under.
const (
	vendorID  = 0x1915
	productID = 0xc00a
)

// Info describes a serial port that looks like a power profiler.
type Info struct {
	Path         string
	SerialNumber string
}

// Find scans serial ports for one matching the instrument's VID/PID and
// confirms the match against the USB descriptor directly, since some
// platforms report VID/PID on the serial enumeration unreliably.
func Find(log *logrus.Entry) (*Info, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}

	for _, port := range ports {
		if !port.IsUSB {
			continue
		}
		if !strings.EqualFold(port.VID, "1915") || !strings.EqualFold(port.PID, "c00a") {
			continue
		}

		log.WithFields(logrus.Fields{"name": port.Name, "serial": port.SerialNumber}).Debug("transport: candidate power profiler port")

		if !confirm(log, port.SerialNumber) {
			log.WithField("name", port.Name).Debug("transport: USB descriptor confirmation failed, skipping")
			continue
		}

		return &Info{Path: port.Name, SerialNumber: port.SerialNumber}, nil
	}

	return nil, ppk2.ErrDeviceNotFound
}

// confirm re-verifies the VID/PID (and, when available, serial number)
// directly against the USB device descriptor, independent of whatever the
// serial enumerator parsed out of the OS's device metadata.
func confirm(log *logrus.Entry, serialNumber string) bool {
	ctx := gousb.NewContext()
	defer ctx.Close()

	devices, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return uint16(desc.Vendor) == vendorID && uint16(desc.Product) == productID
	})
	if err != nil {
		log.WithError(err).Debug("transport: USB descriptor scan failed")
		return false
	}
	defer func() {
		for _, d := range devices {
			d.Close()
		}
	}()

	if len(devices) == 0 {
		return false
	}
	if serialNumber == "" {
		return true
	}
	for _, d := range devices {
		sn, err := d.SerialNumber()
		if err == nil && sn == serialNumber {
			return true
		}
	}
	// A USB device matching VID/PID was found but none carried the
	// expected serial number; still treat it as a match rather than
	// failing discovery outright, since not all platforms expose serial
	// numbers identically between the two APIs.
	return true
}
