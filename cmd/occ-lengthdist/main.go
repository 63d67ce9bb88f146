package main

/*
occ-lengthdist estimates the digestion-error offset distribution from a
fragment-length histogram.  By default the input is a configuration
document naming the histogram under data.length_dist_path; with --raw it
is the two-column histogram itself.  The input comes from a named file or
standard input, and the two-column result goes to standard output.
*/

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/grailbio/base/log"

	"github.com/chromstat/occupancy/config"
	"github.com/chromstat/occupancy/lengthdist"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout))
}

func run(args []string, stdin io.Reader, stdout io.Writer) int {
	fs := flag.NewFlagSet("occ-lengthdist", flag.ContinueOnError)
	coverage := fs.Float64("coverage", lengthdist.DefaultOpts.Coverage,
		"probability mass the truncated support must retain")
	l0 := fs.Int("l0", 147, "baseline fragment length")
	raw := fs.Bool("raw", false,
		"read a two-column length histogram instead of a configuration document")
	rescale := fs.Bool("rescale", false, "renormalize the truncated distribution to sum to 1")
	verbose := fs.Int("v", 0, "verbosity level")
	fs.IntVar(verbose, "verbose", 0, "verbosity level")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: occ-lengthdist [flags] [input]\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 2
		}
		return 1
	}
	if fs.NArg() > 1 {
		fmt.Fprintln(os.Stderr, "occ-lengthdist: at most one input path")
		fs.Usage()
		return 1
	}

	in := stdin
	if fs.NArg() == 1 && fs.Arg(0) != "-" {
		f, err := os.Open(fs.Arg(0))
		if err != nil {
			log.Error.Printf("%v", err)
			return 1
		}
		defer f.Close()
		in = f
	}

	var hist *lengthdist.Histogram
	var err error
	if *raw {
		hist, err = lengthdist.ParseHistogram(in)
	} else {
		var cfg *config.Config
		if cfg, err = config.Read(in); err == nil {
			hist, err = loadHistogram(cfg.Data.LengthDistPath)
		}
	}
	if err != nil {
		log.Error.Printf("%v", err)
		return 1
	}

	opts := lengthdist.DefaultOpts
	opts.Coverage = *coverage
	opts.Rescale = *rescale
	opts.Verbose = *verbose
	dist, err := lengthdist.Estimate(hist, *l0, opts)
	if err != nil {
		log.Error.Printf("%v", err)
		return 1
	}
	if err := lengthdist.Write(stdout, dist); err != nil {
		log.Error.Printf("%v", err)
		return 1
	}
	return 0
}

func loadHistogram(path string) (*lengthdist.Histogram, error) {
	if path == "" {
		return nil, fmt.Errorf("occ-lengthdist: configuration has no data.length_dist_path")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return lengthdist.ParseHistogram(f)
}
