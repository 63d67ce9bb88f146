package main

/*
occ-summarize computes posterior summary tables from the draw archives a
deconvolution run persisted: per-position summaries, condensed detections
per concentration window, and optional cluster and region-parameter tables.
*/

import (
	"flag"
	"fmt"
	"os"

	"github.com/grailbio/base/log"

	"github.com/chromstat/occupancy/config"
	"github.com/chromstat/occupancy/driver"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("occ-summarize", flag.ContinueOnError)
	var sel driver.Select
	sel.RegisterFlags(fs, true)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: occ-summarize [flags] config.yaml [config.yaml ...]\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 2
		}
		return 1
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "occ-summarize: at least one configuration path is required")
		fs.Usage()
		return 1
	}
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
			if err := driver.RunSummarize(cfg, task); err != nil {
				log.Error.Printf("%s: %v", path, err)
				return 1
			}
		}
	}
	return 0
}
