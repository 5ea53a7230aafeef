// Package ppk2 implements the host-side protocol, calibration, and
// streaming logic for a Nordic Power Profiler Kit 2 style USB power
// profiler: a programmable voltage source and high-dynamic-range current
// meter with an 8-pin digital logic port.
package ppk2

import "fmt"

// MeasurementMode selects what the device's ADC is wired to measure.
type MeasurementMode byte

const (
	// Ampere measures current drawn by an externally powered DUT.
	Ampere MeasurementMode = 0x01
	// Source measures current drawn by a DUT powered by the device's own
	// regulator.
	Source MeasurementMode = 0x02
)

func (m MeasurementMode) String() string {
	switch m {
	case Ampere:
		return "ampere"
	case Source:
		return "source"
	default:
		return fmt.Sprintf("MeasurementMode(%#02x)", byte(m))
	}
}

// DevicePower enables or disables the device's own output regulator.
type DevicePower byte

const (
	Disabled DevicePower = 0x00
	Enabled  DevicePower = 0x01
)

func (p DevicePower) String() string {
	switch p {
	case Disabled:
		return "disabled"
	case Enabled:
		return "enabled"
	default:
		return fmt.Sprintf("DevicePower(%#02x)", byte(p))
	}
}

// Level is the state of a single digital logic pin, or a wildcard used
// when describing a pin-match pattern.
type Level byte

const (
	Low Level = iota
	High
	Either
)

func (l Level) String() string {
	switch l {
	case Low:
		return "low"
	case High:
		return "high"
	case Either:
		return "either"
	default:
		return "invalid"
	}
}

// Matches reports whether l and other are compatible, treating Either as
// a wildcard in either position.
func (l Level) Matches(other Level) bool {
	if l == Either || other == Either {
		return true
	}
	return l == other
}

// LogicPortPins is the state of all 8 digital logic pins sampled
// alongside a current measurement.
type LogicPortPins [8]Level

// LogicPortPinsFromByte reinterprets a raw logic byte as pin levels, bit
// i mapping to pin i (1 -> High, 0 -> Low).
func LogicPortPinsFromByte(b byte) LogicPortPins {
	var pins LogicPortPins
	for i := range pins {
		if b&(1<<uint(i)) != 0 {
			pins[i] = High
		} else {
			pins[i] = Low
		}
	}
	return pins
}

// Matches reports whether every pin in p is compatible with the
// corresponding pin of pattern.
func (p LogicPortPins) Matches(pattern LogicPortPins) bool {
	for i := range p {
		if !p[i].Matches(pattern[i]) {
			return false
		}
	}
	return true
}

// NumRanges is the number of ADC gain stages the device switches between.
// Range 4 is the highest-sensitivity stage and the only one that uses the
// slower of the two rolling averages.
const NumRanges = 5

// SourceVoltage is the wire encoding of the device's regulator setpoint.
type SourceVoltage struct {
	raw [2]byte
}

const (
	vddMinMV = 800
	vddMaxMV = 5000
	vddOffset = 32
)

// SourceVoltageFromMillivolts clamps mv to [800, 5000] and encodes it as
// the device expects: d = mv - 800 + 32; byte0 = d/256 + 3; byte1 = d%256.
func SourceVoltageFromMillivolts(mv uint16) SourceVoltage {
	if mv < vddMinMV {
		mv = vddMinMV
	} else if mv > vddMaxMV {
		mv = vddMaxMV
	}
	d := mv - vddMinMV + vddOffset
	return SourceVoltage{raw: [2]byte{byte(d/256) + 3, byte(d % 256)}}
}

// Raw returns the 2-byte wire encoding.
func (v SourceVoltage) Raw() [2]byte { return v.raw }

// Modifiers holds the five-range calibration coefficients parsed from
// device metadata. Index i corresponds to ADC range i (0..4).
type Modifiers struct {
	R  [NumRanges]float32
	GS [NumRanges]float32
	GI [NumRanges]float32
	O  [NumRanges]float32
	S  [NumRanges]float32
	I  [NumRanges]float32
	UG [NumRanges]float32
}

// DefaultModifiers returns the factory calibration used before a device's
// metadata has been read.
func DefaultModifiers() Modifiers {
	return Modifiers{
		R:  [NumRanges]float32{1031.64, 101.65, 10.15, 0.94, 0.043},
		GS: [NumRanges]float32{1, 1, 1, 1, 1},
		GI: [NumRanges]float32{1, 1, 1, 1, 1},
		O:  [NumRanges]float32{0, 0, 0, 0, 0},
		S:  [NumRanges]float32{0, 0, 0, 0, 0},
		I:  [NumRanges]float32{0, 0, 0, 0, 0},
		UG: [NumRanges]float32{1, 1, 1, 1, 1},
	}
}

// fieldTable builds the key -> destination mapping used by the metadata
// parser for the 35 five-element array fields.
func (m *Modifiers) fieldTable() map[string]*float32 {
	t := make(map[string]*float32, NumRanges*7)
	arrays := []struct {
		prefix string
		arr    *[NumRanges]float32
	}{
		{"R", &m.R},
		{"GS", &m.GS},
		{"GI", &m.GI},
		{"O", &m.O},
		{"S", &m.S},
		{"I", &m.I},
		{"UG", &m.UG},
	}
	for _, a := range arrays {
		for i := 0; i < NumRanges; i++ {
			t[fmt.Sprintf("%s%d", a.prefix, i)] = &a.arr[i]
		}
	}
	return t
}

// Metadata is the device's calibration and identification record,
// produced once per session by parsing the GetMetaData response.
type Metadata struct {
	Modifiers     Modifiers
	Calibrated    bool
	VDDMillivolts uint16
	HW            uint32
	Mode          MeasurementMode
	IA            uint32
}

// DefaultMetadata returns the zero-calibration metadata used until a
// device's GetMetaData response has been parsed.
func DefaultMetadata() Metadata {
	return Metadata{
		Modifiers: DefaultModifiers(),
		Mode:      Source,
	}
}
