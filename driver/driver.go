// Package driver holds the orchestration shared by the occ-* commands:
// chromosome/null selection, the (chromosome x null) task list, and the
// per-task pipeline stages that load inputs, run the engines, and persist
// results to the configured output patterns.  The engines themselves know
// nothing about configuration files or path patterns; they receive one
// (chromosome, null) unit per call.
package driver

import (
	"flag"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Task is one unit of work: a chromosome (1-based) and whether the null
// count vector is analyzed in place of the observed one.
type Task struct {
	Chrom int
	Null  bool
}

// Select carries the chromosome-selection flags common to the drivers.
type Select struct {
	// ChromList is the raw -c/--chrom value, a comma-separated list of
	// 1-based chromosome indices.
	ChromList string
	Null      bool
	Both      bool
	All       bool
}

// RegisterFlags binds the selection flags to fs.  The null and both flags
// are registered only when withNull is set; the detection driver selects
// chromosomes but never a null run.
func (s *Select) RegisterFlags(fs *flag.FlagSet, withNull bool) {
	fs.StringVar(&s.ChromList, "c", "", "comma-separated list of chromosomes to process")
	fs.StringVar(&s.ChromList, "chrom", "", "comma-separated list of chromosomes to process")
	fs.BoolVar(&s.All, "all", false, "process every chromosome in the configuration")
	if withNull {
		fs.BoolVar(&s.Null, "null", false, "process the null count vectors instead of the observed ones")
		fs.BoolVar(&s.Both, "both", false, "process observed and null count vectors")
	}
}

// ParseChromList parses a comma-separated list of 1-based chromosome
// indices.
func ParseChromList(s string) ([]int, error) {
	var chroms []int
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		c, err := strconv.Atoi(field)
		if err != nil {
			return nil, errors.Wrapf(err, "driver: chromosome %q", field)
		}
		if c < 1 {
			return nil, errors.Errorf("driver: chromosome index %d out of range", c)
		}
		chroms = append(chroms, c)
	}
	if len(chroms) == 0 {
		return nil, errors.Errorf("driver: empty chromosome list %q", s)
	}
	return chroms, nil
}

// Tasks expands the selection into the task list, chromosome-major.
// Conflicting flags are usage errors; an empty selection defaults to every
// chromosome, observed counts only.
func (s Select) Tasks(nChrom int) ([]Task, error) {
	if s.All && s.ChromList != "" {
		return nil, errors.New("driver: --all and -c are mutually exclusive")
	}
	if s.Null && s.Both {
		return nil, errors.New("driver: --null and --both are mutually exclusive")
	}
	var chroms []int
	if s.ChromList != "" {
		var err error
		if chroms, err = ParseChromList(s.ChromList); err != nil {
			return nil, err
		}
		for _, c := range chroms {
			if c > nChrom {
				return nil, errors.Errorf("driver: chromosome %d exceeds n_chrom %d", c, nChrom)
			}
		}
	} else {
		for c := 1; c <= nChrom; c++ {
			chroms = append(chroms, c)
		}
	}
	var nulls []bool
	switch {
	case s.Both:
		nulls = []bool{false, true}
	case s.Null:
		nulls = []bool{true}
	default:
		nulls = []bool{false}
	}
	tasks := make([]Task, 0, len(chroms)*len(nulls))
	for _, c := range chroms {
		for _, null := range nulls {
			tasks = append(tasks, Task{Chrom: c, Null: null})
		}
	}
	return tasks, nil
}
