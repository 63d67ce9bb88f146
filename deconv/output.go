package deconv

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/grailbio/base/tsv"
	"github.com/pkg/errors"
)

// WriteVector writes one value per line, full float precision.
func WriteVector(out io.Writer, v []float64) error {
	w := tsv.NewWriter(out)
	for _, x := range v {
		w.WriteFloat64(x, 'g', -1)
		if err := w.EndLine(); err != nil {
			return err
		}
	}
	return w.Flush()
}

// WriteVectorFile writes v to path via WriteVector.
func WriteVectorFile(path string, v []float64) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "output: create %s", path)
	}
	defer func() {
		if e := f.Close(); err == nil {
			err = e
		}
	}()
	return WriteVector(f, v)
}

// ReadVector parses a one-value-per-line file written by WriteVector.
func ReadVector(in io.Reader) ([]float64, error) {
	var v []float64
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 1<<16), 1<<24)
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) == 0 {
			continue
		}
		x, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "output: bad value %q", line)
		}
		v = append(v, x)
	}
	return v, scanner.Err()
}

// ReadVectorFile loads path via ReadVector.
func ReadVectorFile(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "output: open %s", path)
	}
	defer f.Close() // nolint: errcheck
	v, err := ReadVector(f)
	if err != nil {
		return nil, errors.Wrapf(err, "output: %s", path)
	}
	return v, nil
}

// WriteRegionParams writes per-region rows: region id, mu, sigmasq.
func WriteRegionParams(out io.Writer, mu, sigmasq []float64) error {
	if len(mu) != len(sigmasq) {
		return errors.Errorf("output: %d mu values vs %d sigmasq values", len(mu), len(sigmasq))
	}
	w := tsv.NewWriter(out)
	w.WriteString("region")
	w.WriteString("mu")
	w.WriteString("sigmasq")
	if err := w.EndLine(); err != nil {
		return err
	}
	for r := range mu {
		w.WriteInt64(int64(r))
		w.WriteFloat64(mu[r], 'g', -1)
		w.WriteFloat64(sigmasq[r], 'g', -1)
		if err := w.EndLine(); err != nil {
			return err
		}
	}
	return w.Flush()
}

// ReadRegionParams reads a table written by WriteRegionParams.  Rows must
// appear in region order.
func ReadRegionParams(in io.Reader) (mu, sigmasq []float64, err error) {
	sc := bufio.NewScanner(in)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, nil, errors.Wrap(err, "output: read region params")
		}
		return nil, nil, errors.New("output: empty region parameter table")
	}
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 3 {
			return nil, nil, errors.Errorf("output: region parameter row has %d columns, want 3", len(fields))
		}
		region, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, nil, errors.Wrapf(err, "output: region id %q", fields[0])
		}
		if region != len(mu) {
			return nil, nil, errors.Errorf("output: region id %d out of order, want %d", region, len(mu))
		}
		m, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "output: mu %q", fields[1])
		}
		s, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "output: sigmasq %q", fields[2])
		}
		mu = append(mu, m)
		sigmasq = append(sigmasq, s)
	}
	if err := sc.Err(); err != nil {
		return nil, nil, errors.Wrap(err, "output: read region params")
	}
	return mu, sigmasq, nil
}

// ReadRegionParamsFile reads per-region parameters from path.
func ReadRegionParamsFile(path string) (mu, sigmasq []float64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "output: open %s", path)
	}
	defer func() {
		if e := f.Close(); err == nil {
			err = e
		}
	}()
	return ReadRegionParams(f)
}

// WriteRegionParamsFile writes per-region parameters to path.
func WriteRegionParamsFile(path string, mu, sigmasq []float64) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "output: create %s", path)
	}
	defer func() {
		if e := f.Close(); err == nil {
			err = e
		}
	}()
	return WriteRegionParams(f, mu, sigmasq)
}
