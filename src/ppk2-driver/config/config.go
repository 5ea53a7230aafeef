// Package config resolves the driver's run-time settings from command-line
// flags, with an optional TOML file providing defaults for anything not
// given on the command line.
package config

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/nrfconnect/ppk2-driver/src/ppk2-driver/ppk2"
)

// Config is the fully resolved set of options the ppk2d command needs to
// open a device and run a measurement.
type Config struct {
	SerialPort    string
	VoltageMV     uint16
	Power         ppk2.DevicePower
	Mode          ppk2.MeasurementMode
	SamplesPerSec int
	LogLevel      string
	OutFile       string
	PinPattern    string

	Serve     bool
	ServeAddr string
}

// Load parses args (typically os.Args[1:]) and overlays defaults read from
// an optional ppk2d.toml, searched for in the working directory and in
// /etc/ppk2d. Flags always win over the config file; the config file
// always wins over the hardcoded defaults below.
func Load(args []string) (Config, error) {
	viper.SetConfigName("ppk2d")
	viper.SetConfigType("toml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/ppk2d")
	_ = viper.ReadInConfig() // absence of a config file is not an error

	fs := pflag.NewFlagSet("ppk2d", pflag.ContinueOnError)

	serialPort := fs.StringP("serial-port", "s", viper.GetString("serial_port"), "serial device path; auto-discovered by USB VID/PID when omitted")
	voltage := fs.Uint16P("voltage", "V", uint16OrDefault(viper.GetInt("voltage_mv"), 3000), "regulator setpoint in millivolts")
	power := fs.BoolP("power", "p", viper.GetBool("power"), "enable the device's own output regulator")
	source := fs.BoolP("source-mode", "m", viper.GetBool("source_mode"), "measure current drawn by the device's own regulator output instead of an externally powered target")
	sps := fs.IntP("sps", "r", intOrDefault(viper.GetInt("sps"), 100), "reduced samples per second")
	logLevel := fs.StringP("log-level", "l", stringOrDefault(viper.GetString("log_level"), "info"), "log level: trace, debug, info, warning, error")
	outFile := fs.StringP("file", "f", viper.GetString("file"), "write raw samples to this file instead of streaming over WebSocket")
	pinPattern := fs.String("pin-pattern", viper.GetString("pin_pattern"), "8-character pin-match pattern (0/1/x per pin, left to right = pin 0..7); samples not matching are dropped from each chunk")
	serve := fs.BoolP("serve", "w", viper.GetBool("serve"), "serve a WebSocket sample stream")
	serveAddr := fs.String("serve-addr", stringOrDefault(viper.GetString("serve_addr"), ":7777"), "address to serve the WebSocket stream on")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	mode := ppk2.Ampere
	if *source {
		mode = ppk2.Source
	}
	devicePower := ppk2.Disabled
	if *power {
		devicePower = ppk2.Enabled
	}

	return Config{
		SerialPort:    *serialPort,
		VoltageMV:     *voltage,
		Power:         devicePower,
		Mode:          mode,
		SamplesPerSec: *sps,
		LogLevel:      *logLevel,
		OutFile:       *outFile,
		PinPattern:    *pinPattern,
		Serve:         *serve,
		ServeAddr:     *serveAddr,
	}, nil
}

// ParsePinPattern turns an 8-character pattern string (one of '0', '1', or
// 'x'/'X' per pin, left to right corresponding to pin 0..7) into a
// ppk2.LogicPortPins pattern. An empty string means "no filter" and
// returns (nil, nil).
func ParsePinPattern(s string) (*ppk2.LogicPortPins, error) {
	if s == "" {
		return nil, nil
	}
	if len(s) != 8 {
		return nil, fmt.Errorf("config: pin pattern %q must be exactly 8 characters", s)
	}

	var pins ppk2.LogicPortPins
	for i := 0; i < 8; i++ {
		switch s[i] {
		case '0':
			pins[i] = ppk2.Low
		case '1':
			pins[i] = ppk2.High
		case 'x', 'X':
			pins[i] = ppk2.Either
		default:
			return nil, fmt.Errorf("config: pin pattern %q has invalid character %q at position %d", s, s[i], i)
		}
	}
	return &pins, nil
}

func intOrDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func uint16OrDefault(v int, def uint16) uint16 {
	if v == 0 {
		return def
	}
	return uint16(v)
}

func stringOrDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
