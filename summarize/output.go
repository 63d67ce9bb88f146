package summarize

import (
	"fmt"
	"io"
	"os"

	"github.com/grailbio/base/tsv"
	"github.com/pkg/errors"
)

// WriteSummaries writes the per-position summary table with one header
// line, per-pm concentration columns appended after the coefficient
// summaries.
func WriteSummaries(out io.Writer, p *Positions) error {
	w := tsv.NewWriter(out)
	cols := []string{"theta", "theta_med", "se_theta", "b", "b_med", "se_b", "n_eff"}
	for _, c := range p.Concentrations {
		cols = append(cols,
			fmt.Sprintf("p_local_concentration_pm%d", c.PM),
			fmt.Sprintf("mean_local_concentration_pm%d", c.PM),
			fmt.Sprintf("se_local_concentration_pm%d", c.PM),
			fmt.Sprintf("z_local_concentration_pm%d", c.PM),
			fmt.Sprintf("mean_global_concentration_pm%d", c.PM),
		)
		if c.QGlobal != nil {
			cols = append(cols, fmt.Sprintf("q_global_concentration_pm%d", c.PM))
		}
	}
	for _, col := range cols {
		w.WriteString(col)
	}
	if err := w.EndLine(); err != nil {
		return err
	}
	for k := range p.Theta {
		w.WriteFloat64(p.Theta[k], 'g', -1)
		w.WriteFloat64(p.ThetaMed[k], 'g', -1)
		w.WriteFloat64(p.SETheta[k], 'g', -1)
		w.WriteFloat64(p.B[k], 'g', -1)
		w.WriteFloat64(p.BMed[k], 'g', -1)
		w.WriteFloat64(p.SEB[k], 'g', -1)
		w.WriteFloat64(p.NEff[k], 'g', -1)
		for _, c := range p.Concentrations {
			w.WriteFloat64(c.PLocal[k], 'g', -1)
			w.WriteFloat64(c.MeanLocal[k], 'g', -1)
			w.WriteFloat64(c.SELocal[k], 'g', -1)
			w.WriteFloat64(c.ZLocal[k], 'g', -1)
			w.WriteFloat64(c.MeanGlobal[k], 'g', -1)
			if c.QGlobal != nil {
				w.WriteFloat64(c.QGlobal[k], 'g', -1)
			}
		}
		if err := w.EndLine(); err != nil {
			return err
		}
	}
	return w.Flush()
}

// WriteSummariesFile writes the summary table to path.
func WriteSummariesFile(path string, p *Positions) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "summarize: create %s", path)
	}
	defer func() {
		if e := f.Close(); err == nil {
			err = e
		}
	}()
	return WriteSummaries(f, p)
}

// WriteDetections writes condensed detections: center position and the
// number of adjacent detections behind it.
func WriteDetections(out io.Writer, centers []float64, counts []int) error {
	if len(centers) != len(counts) {
		return errors.Errorf("summarize: %d centers vs %d counts", len(centers), len(counts))
	}
	w := tsv.NewWriter(out)
	w.WriteString("pos")
	w.WriteString("n")
	if err := w.EndLine(); err != nil {
		return err
	}
	for i := range centers {
		w.WriteFloat64(centers[i], 'f', 1)
		w.WriteInt64(int64(counts[i]))
		if err := w.EndLine(); err != nil {
			return err
		}
	}
	return w.Flush()
}

// WriteDetectionsFile writes condensed detections to path.
func WriteDetectionsFile(path string, centers []float64, counts []int) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "summarize: create %s", path)
	}
	defer func() {
		if e := f.Close(); err == nil {
			err = e
		}
	}()
	return WriteDetections(f, centers, counts)
}

// WriteClusters writes the cluster-level summary table.  The sparsity and
// n-large column names carry their q and p settings as percentages.
func WriteClusters(out io.Writer, clusters []Cluster, opts Opts) error {
	w := tsv.NewWriter(out)
	cols := []string{
		"center", "cluster_length",
		"occupancy", "occupancy_se",
		"localization", "localization_se",
		"structure", "structure_se",
	}
	for _, q := range opts.QSparsity {
		cols = append(cols,
			fmt.Sprintf("sparsityq%02.0f", q*100),
			fmt.Sprintf("sparsityq%02.0f_se", q*100))
	}
	for _, p := range opts.PThreshold {
		cols = append(cols,
			fmt.Sprintf("nlargep%02.0f", p*100),
			fmt.Sprintf("nlargep%02.0f_se", p*100))
	}
	for _, col := range cols {
		w.WriteString(col)
	}
	if err := w.EndLine(); err != nil {
		return err
	}
	for _, cl := range clusters {
		w.WriteInt64(int64(cl.Center))
		w.WriteInt64(int64(cl.Length))
		w.WriteFloat64(cl.Occupancy, 'g', -1)
		w.WriteFloat64(cl.OccupancySE, 'g', -1)
		w.WriteFloat64(cl.Localization, 'g', -1)
		w.WriteFloat64(cl.LocalizationSE, 'g', -1)
		w.WriteFloat64(cl.Structure, 'g', -1)
		w.WriteFloat64(cl.StructureSE, 'g', -1)
		for i := range opts.QSparsity {
			w.WriteFloat64(cl.Sparsity[i], 'g', -1)
			w.WriteFloat64(cl.SparsitySE[i], 'g', -1)
		}
		for i := range opts.PThreshold {
			w.WriteFloat64(cl.NLarge[i], 'g', -1)
			w.WriteFloat64(cl.NLargeSE[i], 'g', -1)
		}
		if err := w.EndLine(); err != nil {
			return err
		}
	}
	return w.Flush()
}

// WriteClustersFile writes the cluster table to path.
func WriteClustersFile(path string, clusters []Cluster, opts Opts) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "summarize: create %s", path)
	}
	defer func() {
		if e := f.Close(); err == nil {
			err = e
		}
	}()
	return WriteClusters(f, clusters, opts)
}

// WriteParams writes the per-region hyperparameter summary table.
func WriteParams(out io.Writer, params []ParamSummary) error {
	w := tsv.NewWriter(out)
	for _, col := range []string{
		"region_id",
		"mu_postmean", "mu_postmed", "mu_se",
		"sigmasq_postmean", "sigmasq_postmed", "sigmasq_se",
		"sigma_postmean", "sigma_postmed", "sigma_se",
	} {
		w.WriteString(col)
	}
	if err := w.EndLine(); err != nil {
		return err
	}
	for _, ps := range params {
		w.WriteInt64(int64(ps.RegionID))
		w.WriteFloat64(ps.MuMean, 'g', -1)
		w.WriteFloat64(ps.MuMed, 'g', -1)
		w.WriteFloat64(ps.MuSE, 'g', -1)
		w.WriteFloat64(ps.SigmasqMean, 'g', -1)
		w.WriteFloat64(ps.SigmasqMed, 'g', -1)
		w.WriteFloat64(ps.SigmasqSE, 'g', -1)
		w.WriteFloat64(ps.SigmaMean, 'g', -1)
		w.WriteFloat64(ps.SigmaMed, 'g', -1)
		w.WriteFloat64(ps.SigmaSE, 'g', -1)
		if err := w.EndLine(); err != nil {
			return err
		}
	}
	return w.Flush()
}

// WriteParamsFile writes the parameter table to path.
func WriteParamsFile(path string, params []ParamSummary) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "summarize: create %s", path)
	}
	defer func() {
		if e := f.Close(); err == nil {
			err = e
		}
	}()
	return WriteParams(f, params)
}
