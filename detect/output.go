package detect

import (
	"io"
	"os"

	"github.com/grailbio/base/tsv"
	"github.com/pkg/errors"
)

// WriteDetected writes the detected positions and their evidence scores,
// one row per detection.
func WriteDetected(out io.Writer, res *Result) error {
	w := tsv.NewWriter(out)
	w.WriteString("pos")
	w.WriteString("score")
	if err := w.EndLine(); err != nil {
		return err
	}
	for _, rec := range res.Records {
		if !rec.Detected {
			continue
		}
		w.WriteInt64(int64(rec.Pos))
		w.WriteFloat64(rec.Score, 'g', -1)
		if err := w.EndLine(); err != nil {
			return err
		}
	}
	return w.Flush()
}

// WriteDetectedFile writes detections to path.
func WriteDetectedFile(path string, res *Result) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "detect: create %s", path)
	}
	defer func() {
		if e := f.Close(); err == nil {
			err = e
		}
	}()
	return WriteDetected(f, res)
}
