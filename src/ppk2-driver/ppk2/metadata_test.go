package ppk2

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// referenceMetadata is the device-supplied calibration block used by the
// calibration checkpoint scenario below.
const referenceMetadata = `Calibrated: 0
R0: 1003.3506
R1: 101.5865
R2: 10.3027
R3: 0.9636
R4: 0.0564
GS0: 0.0000
GS1: 112.7890
GS2: 18.0115
GS3: 2.4217
GS4: 0.0729
GI0: 1.0000
GI1: 0.9695
GI2: 0.9609
GI3: 0.9519
GI4: 0.9582
O0: 112.9420
O1: 75.4627
O2: 64.6020
O3: 50.4983
O4: 87.2177
VDD: 3741
HW: 9173
mode: 2
S0: 0.000000048
S1: 0.000000596
S2: 0.000005281
S3: 0.000062577
S4: 0.002940743
I0: -0.000000104
I1: -0.000001443
I2: 0.000036439
I3: -0.000374119
I4: -0.009388455
UG0: 1.00
UG1: 1.00
UG2: 1.00
UG3: 1.00
UG4: 1.00
IA: 56
END
`

func TestParseMetadataReferenceBlock(t *testing.T) {
	md, err := ParseMetadata([]byte(referenceMetadata))
	require.NoError(t, err)

	assert.False(t, md.Calibrated, "line was \"Calibrated: 0\"")
	assert.EqualValues(t, 3741, md.VDDMillivolts)
	assert.EqualValues(t, 9173, md.HW)
	assert.EqualValues(t, 56, md.IA)
	assert.Equal(t, Source, md.Mode, "mode: 2")

	wantR := [NumRanges]float32{1003.3506, 101.5865, 10.3027, 0.9636, 0.0564}
	for i, want := range wantR {
		assert.InDelta(t, want, md.Modifiers.R[i], 1e-4, "R[%d]", i)
	}

	assert.Equal(t, float32(-0.000374119), md.Modifiers.I[3])
	assert.Equal(t, float32(112.9420), md.Modifiers.O[0])
}

func TestParseMetadataMissingTerminator(t *testing.T) {
	blob := strings.TrimSuffix(referenceMetadata, "END\n")
	_, err := ParseMetadata([]byte(blob))
	require.Error(t, err)
}

func TestParseMetadataTrailingContentAfterTerminator(t *testing.T) {
	blob := referenceMetadata + "extra garbage\n"
	_, err := ParseMetadata([]byte(blob))
	require.Error(t, err)
}

func TestParseMetadataUnknownKey(t *testing.T) {
	blob := "Calibrated: 0\nBOGUS: 1\nEND\n"
	_, err := ParseMetadata([]byte(blob))
	require.Error(t, err)

	var perr *ParseError
	require.ErrorAs(t, err, &perr)
}

func TestParseMetadataInvalidUTF8(t *testing.T) {
	blob := []byte{0xff, 0xfe, 0xfd}
	_, err := ParseMetadata(blob)
	require.Error(t, err)
}

func TestParseMetadataMalformedLine(t *testing.T) {
	blob := "this is not a key value line\nEND\n"
	_, err := ParseMetadata([]byte(blob))
	require.Error(t, err)
}
