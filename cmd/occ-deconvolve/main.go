package main

/*
occ-deconvolve fits the latent occupancy model for the selected
(chromosome, null) units of one or more configuration documents: EM point
estimation followed by posterior sampling, with results written to the
configured output patterns.
*/

import (
	"context"
	"flag"
	"fmt"
	"os"
	"runtime"

	"github.com/grailbio/base/log"

	"github.com/chromstat/occupancy/config"
	"github.com/chromstat/occupancy/driver"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("occ-deconvolve", flag.ContinueOnError)
	var sel driver.Select
	sel.RegisterFlags(fs, true)
	workers := fs.Int("workers", 0, "worker count; 0 means one per CPU")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: occ-deconvolve [flags] config.yaml [config.yaml ...]\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 2
		}
		return 1
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "occ-deconvolve: at least one configuration path is required")
		fs.Usage()
		return 1
	}
	w := *workers
	if w <= 0 {
		w = runtime.GOMAXPROCS(0)
	}
	ctx := context.Background()
	for _, path := range fs.Args() {
		cfg, err := config.Load(path)
		if err != nil {
			log.Error.Printf("%v", err)
			return 1
		}
		tasks, err := sel.Tasks(cfg.Data.NChrom)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		for _, task := range tasks {
			if err := driver.RunDeconvolve(ctx, cfg, task, w); err != nil {
				log.Error.Printf("%s: %v", path, err)
				return 1
			}
		}
	}
	return 0
}
