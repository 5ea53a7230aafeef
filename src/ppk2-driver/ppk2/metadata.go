package ppk2

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// ParseMetadata parses the device's textual calibration block, as
// returned by GetMetaData. The block must be valid UTF-8 and end with a
// line "END" followed by a trailing newline; every other line must be
// "Key: Value" for one of the recognized keys. Unknown keys, malformed
// values, a missing terminator, and trailing content after the
// terminator are all reported as *ParseError.
func ParseMetadata(data []byte) (Metadata, error) {
	if !utf8.Valid(data) {
		return Metadata{}, &ParseError{Line: string(data)}
	}
	text := string(data)
	if !strings.HasSuffix(text, "END\n") {
		return Metadata{}, &ParseError{Line: text}
	}

	md := DefaultMetadata()
	fields := md.Modifiers.fieldTable()

	terminated := false
	for _, line := range strings.Split(text, "\n") {
		if terminated {
			if line != "" {
				return Metadata{}, &ParseError{Line: line}
			}
			continue
		}
		if line == "END" {
			terminated = true
			continue
		}

		key, value, ok := strings.Cut(line, ": ")
		if !ok {
			return Metadata{}, &ParseError{Line: line}
		}

		switch key {
		case "Calibrated":
			md.Calibrated = value != "0"
		case "VDD":
			v, err := strconv.ParseUint(value, 10, 16)
			if err != nil {
				return Metadata{}, &ParseError{Line: line}
			}
			md.VDDMillivolts = uint16(v)
		case "HW":
			v, err := strconv.ParseUint(value, 10, 32)
			if err != nil {
				return Metadata{}, &ParseError{Line: line}
			}
			md.HW = uint32(v)
		case "IA":
			v, err := strconv.ParseUint(value, 10, 32)
			if err != nil {
				return Metadata{}, &ParseError{Line: line}
			}
			md.IA = uint32(v)
		case "mode":
			v, err := strconv.ParseUint(value, 10, 8)
			if err != nil {
				return Metadata{}, &ParseError{Line: line}
			}
			switch v {
			case 1:
				md.Mode = Ampere
			case 2:
				md.Mode = Source
			default:
				return Metadata{}, &ParseError{Line: line}
			}
		default:
			dst, ok := fields[key]
			if !ok {
				return Metadata{}, &ParseError{Line: line}
			}
			v, err := strconv.ParseFloat(value, 32)
			if err != nil {
				return Metadata{}, &ParseError{Line: line}
			}
			*dst = float32(v)
		}
	}

	if !terminated {
		return Metadata{}, &ParseError{Line: text}
	}
	return md, nil
}
