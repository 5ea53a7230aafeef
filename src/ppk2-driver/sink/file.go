// Package sink implements the file-writing consumer for the driver's raw,
// unchunked streaming mode: one line per decoded sample, or a placeholder
// line when a counter gap was detected in its place.
package sink

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/nrfconnect/ppk2-driver/src/ppk2-driver/ppk2"
)

// FileWriter decodes raw 32-bit sample words one at a time and appends a
// line per result to an underlying writer: "%.4f\n" for a measurement, or
// "?<expected>-<actual>\n" for a detected counter gap. The first word
// decoded never produces a gap line.
type FileWriter struct {
	accumulator *ppk2.Accumulator
	out         *bufio.Writer
	buf         []byte
}

// NewFileWriter creates a FileWriter that calibrates against md and
// appends lines to w.
func NewFileWriter(w io.Writer, md ppk2.Metadata) *FileWriter {
	return &FileWriter{
		accumulator: ppk2.NewAccumulator(md),
		out:         bufio.NewWriter(w),
		buf:         make([]byte, 0, 4096),
	}
}

// WriteWord decodes one raw sample word and appends its line.
func (f *FileWriter) WriteWord(word uint32) error {
	m, missed, ok := f.accumulator.DecodeNext(word)
	if ok {
		_, err := fmt.Fprintf(f.out, "%.4f\n", m.MicroAmps)
		return err
	}
	expected := int(missed.ExpectedCounter)
	_, err := fmt.Fprintf(f.out, "?%d-%d\n", expected, missed.ActualCounter)
	return err
}

// WriteRaw decodes every complete little-endian 32-bit word across data
// and any bytes buffered from a previous short read, appending a line per
// result. Serial reads rarely land on a 4-byte boundary, so any trailing
// partial word is retained and prefixed onto the next call's data rather
// than discarded.
func (f *FileWriter) WriteRaw(data []byte) error {
	f.buf = append(f.buf, data...)
	end := len(f.buf) - len(f.buf)%4
	for i := 0; i < end; i += 4 {
		if err := f.WriteWord(binary.LittleEndian.Uint32(f.buf[i : i+4])); err != nil {
			f.buf = f.buf[i:]
			return err
		}
	}
	f.buf = append(f.buf[:0], f.buf[end:]...)
	return nil
}

// Flush flushes buffered output to the underlying writer.
func (f *FileWriter) Flush() error {
	return f.out.Flush()
}
