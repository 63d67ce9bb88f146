package main

import (
	"bytes"
	"strconv"
	"strings"
	"testing"

	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func TestRawHistogramFromStdin(t *testing.T) {
	in := strings.NewReader("145 10\n146 20\n147 40\n148 20\n149 10\n")
	var out bytes.Buffer
	status := run([]string{"--raw", "--l0=147"}, in, &out)
	assert.EQ(t, status, 0)

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	assert.EQ(t, len(lines), 5)
	offsets := make([]int, len(lines))
	probs := make([]float64, len(lines))
	total := 0.0
	for i, line := range lines {
		fields := strings.Split(line, "\t")
		assert.EQ(t, len(fields), 2)
		var err error
		offsets[i], err = strconv.Atoi(fields[0])
		assert.NoError(t, err)
		probs[i], err = strconv.ParseFloat(fields[1], 64)
		assert.NoError(t, err)
		total += probs[i]
	}
	expect.EQ(t, offsets, []int{-2, -1, 0, 1, 2})
	expect.True(t, total > 0.999)
	for i := 0; i < 2; i++ {
		expect.True(t, probs[i]-probs[4-i] < 1e-9 && probs[4-i]-probs[i] < 1e-9)
	}
}

func TestUsageErrors(t *testing.T) {
	var out bytes.Buffer
	expect.EQ(t, run([]string{"-h"}, strings.NewReader(""), &out), 2)
	expect.EQ(t, run([]string{"--bogus"}, strings.NewReader(""), &out), 1)
	expect.EQ(t, run([]string{"a", "b"}, strings.NewReader(""), &out), 1)
}

func TestBadHistogram(t *testing.T) {
	var out bytes.Buffer
	status := run([]string{"--raw"}, strings.NewReader("not a histogram\n"), &out)
	expect.EQ(t, status, 1)
	expect.EQ(t, out.Len(), 0)
}
