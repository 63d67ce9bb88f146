package deconv

import (
	"bytes"
	"strings"
	"testing"

	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func TestVectorRoundTrip(t *testing.T) {
	v := []float64{0, -1.5, 3.25, 1e-9, 12345.678}
	var buf bytes.Buffer
	assert.NoError(t, WriteVector(&buf, v))
	got, err := ReadVector(&buf)
	assert.NoError(t, err)
	expect.EQ(t, got, v)
}

func TestReadVectorBadValue(t *testing.T) {
	_, err := ReadVector(strings.NewReader("1.5\nnope\n"))
	expect.HasSubstr(t, err.Error(), "bad value")
}

func TestWriteRegionParams(t *testing.T) {
	var buf bytes.Buffer
	assert.NoError(t, WriteRegionParams(&buf, []float64{-1, -2}, []float64{0.5, 0.25}))
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	expect.EQ(t, len(lines), 3)
	expect.EQ(t, lines[0], "region\tmu\tsigmasq")
	expect.EQ(t, lines[1], "0\t-1\t0.5")
	expect.EQ(t, lines[2], "1\t-2\t0.25")

	err := WriteRegionParams(&buf, []float64{1}, []float64{1, 2})
	expect.HasSubstr(t, err.Error(), "mu values")
}

func TestRegionParamsRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	wantMu := []float64{-4.5, -3.25}
	wantSq := []float64{0.5, 2}
	assert.NoError(t, WriteRegionParams(&buf, wantMu, wantSq))
	mu, sigmasq, err := ReadRegionParams(bytes.NewReader(buf.Bytes()))
	assert.NoError(t, err)
	expect.EQ(t, mu, wantMu)
	expect.EQ(t, sigmasq, wantSq)
}

func TestReadRegionParamsErrors(t *testing.T) {
	_, _, err := ReadRegionParams(strings.NewReader(""))
	expect.HasSubstr(t, err.Error(), "empty region parameter table")

	_, _, err = ReadRegionParams(strings.NewReader("region\tmu\tsigmasq\n0\t-1\n"))
	expect.HasSubstr(t, err.Error(), "2 columns")

	_, _, err = ReadRegionParams(strings.NewReader("region\tmu\tsigmasq\n1\t-1\t0.5\n"))
	expect.HasSubstr(t, err.Error(), "out of order")
}
