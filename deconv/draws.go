package deconv

import (
	"encoding/binary"
	"io"
	"math"
	"os"

	"github.com/grailbio/base/recordio"
	"github.com/grailbio/base/recordio/recordiozstd"
	"github.com/pkg/errors"
)

func init() {
	recordiozstd.Init()
}

const (
	hdrChrom     = "chrom"
	hdrNull      = "null"
	hdrNBurnin   = "n_burnin"
	hdrPositions = "n_positions"
	hdrRegions   = "n_regions"
)

// drawRecord is one chain iteration in archive form.
type drawRecord struct {
	theta   []float64
	mu      []float64
	sigmasq []float64
}

func marshalDraw(scratch []byte, v interface{}) ([]byte, error) {
	rec := v.(*drawRecord)
	need := 8 * (len(rec.theta) + len(rec.mu) + len(rec.sigmasq))
	t := scratch
	if len(t) < need {
		t = make([]byte, need)
	}
	t = t[:need]
	off := 0
	for _, row := range [][]float64{rec.theta, rec.mu, rec.sigmasq} {
		for _, x := range row {
			binary.LittleEndian.PutUint64(t[off:off+8], math.Float64bits(x))
			off += 8
		}
	}
	return t, nil
}

// WriteDraws persists the draw sequence, in iteration order, as a recordio
// stream with one record per iteration.
func WriteDraws(out io.Writer, ds *DrawSet) error {
	w := recordio.NewWriter(out, recordio.WriterOpts{
		Marshal:      marshalDraw,
		Transformers: []string{recordiozstd.Name},
	})
	w.AddHeader(hdrChrom, int64(ds.Chrom))
	w.AddHeader(hdrNull, ds.Null)
	w.AddHeader(hdrNBurnin, int64(ds.NBurnin))
	w.AddHeader(hdrPositions, int64(len(ds.Accept)))
	nRegions := 0
	if len(ds.Mu) > 0 {
		nRegions = len(ds.Mu[0])
	}
	w.AddHeader(hdrRegions, int64(nRegions))
	w.AddHeader(recordio.KeyTrailer, true)
	for t := range ds.Theta {
		w.Append(&drawRecord{theta: ds.Theta[t], mu: ds.Mu[t], sigmasq: ds.Sigmasq[t]})
	}
	w.SetTrailer(acceptTrailer(ds.Accept))
	return w.Finish()
}

// WriteDrawsFile writes the draw archive to path.
func WriteDrawsFile(path string, ds *DrawSet) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "draws: create %s", path)
	}
	defer func() {
		if e := f.Close(); err == nil {
			err = e
		}
	}()
	return WriteDraws(f, ds)
}

func acceptTrailer(accept []int) []byte {
	t := make([]byte, 8*len(accept))
	for i, a := range accept {
		binary.LittleEndian.PutUint64(t[8*i:8*i+8], uint64(a))
	}
	return t
}

// ReadDraws loads a draw archive written by WriteDraws, preserving
// iteration order and count.
func ReadDraws(rs io.ReadSeeker) (*DrawSet, error) {
	var nPositions, nRegions int
	ds := &DrawSet{}
	scanner := recordio.NewScanner(rs, recordio.ScannerOpts{
		Unmarshal: func(in []byte) (interface{}, error) {
			if len(in) != 8*(nPositions+2*nRegions) {
				return nil, errors.Errorf("draws: record size %d does not match %d positions, %d regions",
					len(in), nPositions, nRegions)
			}
			rec := &drawRecord{
				theta:   make([]float64, nPositions),
				mu:      make([]float64, nRegions),
				sigmasq: make([]float64, nRegions),
			}
			off := 0
			for _, row := range [][]float64{rec.theta, rec.mu, rec.sigmasq} {
				for i := range row {
					row[i] = math.Float64frombits(binary.LittleEndian.Uint64(in[off : off+8]))
					off += 8
				}
			}
			return rec, nil
		},
	})
	for _, kv := range scanner.Header() {
		switch kv.Key {
		case hdrChrom:
			ds.Chrom = int(kv.Value.(int64))
		case hdrNull:
			ds.Null = kv.Value.(bool)
		case hdrNBurnin:
			ds.NBurnin = int(kv.Value.(int64))
		case hdrPositions:
			nPositions = int(kv.Value.(int64))
		case hdrRegions:
			nRegions = int(kv.Value.(int64))
		}
	}
	for scanner.Scan() {
		rec := scanner.Get().(*drawRecord)
		ds.Theta = append(ds.Theta, rec.theta)
		ds.Mu = append(ds.Mu, rec.mu)
		ds.Sigmasq = append(ds.Sigmasq, rec.sigmasq)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "draws")
	}
	if trailer := scanner.Trailer(); len(trailer) == 8*nPositions {
		ds.Accept = make([]int, nPositions)
		for i := range ds.Accept {
			ds.Accept[i] = int(binary.LittleEndian.Uint64(trailer[8*i : 8*i+8]))
		}
	}
	if ds.NBurnin >= len(ds.Theta) && len(ds.Theta) > 0 {
		return nil, errors.Errorf("draws: burn-in %d exceeds stored draws %d", ds.NBurnin, len(ds.Theta))
	}
	return ds, nil
}

// ReadDrawsFile loads the draw archive at path.
func ReadDrawsFile(path string) (*DrawSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "draws: open %s", path)
	}
	defer f.Close() // nolint: errcheck
	ds, err := ReadDraws(f)
	if err != nil {
		return nil, errors.Wrapf(err, "draws: %s", path)
	}
	return ds, nil
}
