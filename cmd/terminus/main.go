package main

/*
terminus discovers transcript 3' ends from paired-end RNA sequencing data
and emits a per-region, per-sample count matrix for downstream differential
testing.

	terminus run -config analysis.yaml -out counts.tsv
	terminus downsample -in big.bam -out small.bam -target 1000000 -source 52341234
*/

import (
	"flag"
	"fmt"
	"os"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"

	"github.com/terminusbio/terminus/config"
	"github.com/terminusbio/terminus/downsample"
	"github.com/terminusbio/terminus/pipeline"
	"github.com/terminusbio/terminus/table"
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s {run|downsample} [OPTIONS]\n", os.Args[0])
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	switch os.Args[1] {
	case "run":
		runMain(os.Args[2:])
	case "downsample":
		downsampleMain(os.Args[2:])
	default:
		usage()
	}
}

func runMain(args []string) {
	flags := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := flags.String("config", "", "YAML configuration path (required)")
	outPath := flags.String("out", "", "Output table path; stdout when empty")
	flags.Parse(args)
	if *configPath == "" {
		log.Fatalf("-config is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("%v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("%v", err)
	}
	ctx := vcontext.Background()
	p, err := pipeline.New(cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}
	regions, err := p.Run(ctx)
	if err != nil {
		log.Fatalf("%v", err)
	}

	out := os.Stdout
	if *outPath != "" {
		if out, err = os.Create(*outPath); err != nil {
			log.Fatalf("%v", err)
		}
	}
	sampleNames := make([]string, len(cfg.Samples))
	for i, s := range cfg.Samples {
		sampleNames[i] = s.Name
	}
	if err := table.Write(out, regions, sampleNames); err != nil {
		log.Fatalf("%v", err)
	}
	if *outPath != "" {
		if err := out.Close(); err != nil {
			log.Fatalf("%v", err)
		}
	}
	log.Printf("wrote %d regions for %d samples", len(regions), len(sampleNames))
}

func downsampleMain(args []string) {
	flags := flag.NewFlagSet("downsample", flag.ExitOnError)
	inPath := flags.String("in", "", "Source BAM path (required)")
	outPath := flags.String("out", "", "Destination BAM path (required)")
	target := flags.Int("target", 0, "Number of read pairs to retain (required)")
	source := flags.Int("source", 0, "Number of eligible read pairs in the source (required)")
	mode := flags.String("mode", "paired", "Pair eligibility: paired, mapped, or proper")
	seed := flags.Int64("seed", 0, "Random seed")
	flags.Parse(args)
	if *inPath == "" || *outPath == "" || *target == 0 || *source == 0 {
		log.Fatalf("-in, -out, -target, and -source are required")
	}
	var pairMode downsample.PairMode
	switch *mode {
	case "paired":
		pairMode = downsample.Paired
	case "mapped":
		pairMode = downsample.MappedPaired
	case "proper":
		pairMode = downsample.ProperlyPaired
	default:
		log.Fatalf("unknown -mode %q", *mode)
	}
	ctx := vcontext.Background()
	kept, err := downsample.Run(ctx, *inPath, *outPath, downsample.Opts{
		TargetPairs: *target,
		SourcePairs: *source,
		Mode:        pairMode,
		Seed:        *seed,
	})
	if err != nil {
		log.Fatalf("%v", err)
	}
	log.Printf("retained %d of %d pairs", kept, *source)
}
