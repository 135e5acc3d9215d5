package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/terminusbio/terminus/bamio"
	"github.com/terminusbio/terminus/chunk"
	"github.com/terminusbio/terminus/counts"
	"github.com/terminusbio/terminus/coverage"
	"github.com/terminusbio/terminus/ends"
	"github.com/terminusbio/terminus/hmm"
	"github.com/terminusbio/terminus/region"
)

// branchName labels a merge branch for mismatch diagnostics.
func branchName(stage string, ch chunk.Chunk, ref string) string {
	return fmt.Sprintf("%s chunk=%d ref=%s", stage, ch.Index, ref)
}

// runTags counts barcode occurrences over the chunk's references. The
// artifact backs the barcode-presence check and explains empty outputs.
func (p *Pipeline) runTags(ctx context.Context, input string, ch chunk.Chunk, k Key) error {
	r, err := bamio.Open(input, "")
	if err != nil {
		return err
	}
	defer r.Close()
	seen := make(map[string]int)
	for _, tag := range p.tags[input].Seqs() {
		seen[tag] = 0
	}
	for _, ref := range ch.Refs {
		it, err := r.Query(ctx, ref.Name, 1, ref.Length)
		if err != nil {
			return err
		}
		for it.Scan() {
			if bc, ok := p.tags[input].Match(it.Record().Name); ok {
				seen[bc.Seq]++
			}
		}
		if err := it.Close(); err != nil {
			return err
		}
	}
	return p.store.Put(k, seen)
}

// runBins bins filtered read-2 coverage per reference and strand.
func (p *Pipeline) runBins(ctx context.Context, input string, ch chunk.Chunk, k Key) error {
	r, err := bamio.Open(input, "")
	if err != nil {
		return err
	}
	defer r.Close()
	filter := &coverage.Filter{Tags: p.tags[input], MismatchThreshold: p.cfg.MismatchThreshold}
	out := make(map[string]*coverage.Bins, len(ch.Refs))
	for _, ref := range ch.Refs {
		it, err := r.Query(ctx, ref.Name, 1, ref.Length)
		if err != nil {
			return err
		}
		rc := &bamio.RejectCounts{}
		bins, err := coverage.BinReads(it, filter, p.cfg.BinSize, rc)
		if cerr := it.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
		rc.Log(k.String() + " " + ref.Name)
		out[ref.Name] = bins
	}
	return p.store.Put(k, out)
}

// runPeaks builds per-strand peak lists per reference.
func (p *Pipeline) runPeaks(ctx context.Context, input string, ch chunk.Chunk, k Key) error {
	r, err := bamio.Open(input, "")
	if err != nil {
		return err
	}
	defer r.Close()
	filter := &coverage.Filter{Tags: p.tags[input], MismatchThreshold: p.cfg.MismatchThreshold}
	out := make(map[string]*coverage.PeakSet, len(ch.Refs))
	for _, ref := range ch.Refs {
		it, err := r.Query(ctx, ref.Name, 1, ref.Length)
		if err != nil {
			return err
		}
		rc := &bamio.RejectCounts{}
		peaks, err := coverage.BuildPeaks(it, filter, p.cfg.PeakBufferWidth, rc)
		if cerr := it.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
		rc.Log(k.String() + " " + ref.Name)
		out[ref.Name] = peaks
	}
	return p.store.Put(k, out)
}

// runRegions merges per-input bins and peaks, segments the merged
// coverage, and joins positive bins into regions.
func (p *Pipeline) runRegions(ctx context.Context, ch chunk.Chunk, k Key) error {
	perInputBins := make([]map[string]*coverage.Bins, len(p.inputs))
	perInputPeaks := make([]map[string]*coverage.PeakSet, len(p.inputs))
	for i, input := range p.inputs {
		if err := p.store.Get(Key{Stage: stageBins, Input: input, Chunk: ch.Index}, &perInputBins[i]); err != nil {
			return err
		}
		if err := p.store.Get(Key{Stage: stagePeaks, Input: input, Chunk: ch.Index}, &perInputPeaks[i]); err != nil {
			return err
		}
	}
	out := make(map[string][]region.Region, len(ch.Refs))
	for _, ref := range ch.Refs {
		var binsIn []*coverage.Bins
		var fwdLists, revLists [][]coverage.Peak
		for i := range p.inputs {
			if b := perInputBins[i][ref.Name]; b != nil {
				binsIn = append(binsIn, b)
			}
			if ps := perInputPeaks[i][ref.Name]; ps != nil {
				fwdLists = append(fwdLists, ps.Fwd)
				revLists = append(revLists, ps.Rev)
			}
		}
		merged := coverage.MergeBins(binsIn...)
		peaks := &coverage.PeakSet{
			Fwd: coverage.MergePeaks(p.cfg.PeakBufferWidth, fwdLists...),
			Rev: coverage.MergePeaks(p.cfg.PeakBufferWidth, revLists...),
		}
		sum := hmm.NewSummary(ref.Name, ref.Length, p.cfg.Read2Length, p.cfg.BinSize, p.cfg.HmmSigLevel, merged)
		regions, err := hmm.Regions(ctx, p.seg, ref.Name, p.cfg.BinSize, merged, peaks, sum)
		if err != nil {
			return err
		}
		out[ref.Name] = regions
	}
	return p.store.Put(k, out)
}

// regionSpan bounds the query window for a region list.
func regionSpan(regions []region.Region) (int, int) {
	lo, hi := regions[0].Start, regions[0].End
	for _, r := range regions[1:] {
		if r.Start < lo {
			lo = r.Start
		}
		if r.End > hi {
			hi = r.End
		}
	}
	return lo, hi
}

// runEnds derives per-input 3'-end candidates for the chunk's regions.
func (p *Pipeline) runEnds(ctx context.Context, input string, ch chunk.Chunk, k Key) error {
	var regions map[string][]region.Region
	if err := p.store.Get(Key{Stage: stageRegions, Chunk: ch.Index}, &regions); err != nil {
		return err
	}
	r, err := bamio.Open(input, "")
	if err != nil {
		return err
	}
	defer r.Close()
	opts := ends.ExtractOpts{
		Tags:              p.tags[input],
		MismatchThreshold: p.cfg.MismatchThreshold,
		Read2Length:       p.cfg.Read2Length,
	}
	out := make(map[string][]region.Region, len(ch.Refs))
	for _, ref := range ch.Refs {
		rs := regions[ref.Name]
		if len(rs) == 0 {
			out[ref.Name] = nil
			continue
		}
		lo, hi := regionSpan(rs)
		it, err := r.Query(ctx, ref.Name, lo, hi)
		if err != nil {
			return err
		}
		rc := &bamio.RejectCounts{}
		withEnds, err := ends.Extract(it, rs, opts, rc)
		if cerr := it.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
		rc.Log(k.String() + " " + ref.Name)
		out[ref.Name] = withEnds
	}
	return p.store.Put(k, out)
}

// runMergedEnds fuses the per-input candidate lists of one chunk.
func (p *Pipeline) runMergedEnds(ctx context.Context, ch chunk.Chunk, k Key) error {
	perInput := make([]map[string][]region.Region, len(p.inputs))
	for i, input := range p.inputs {
		if err := p.store.Get(Key{Stage: stageEnds, Input: input, Chunk: ch.Index}, &perInput[i]); err != nil {
			return err
		}
	}
	out := make(map[string][]region.Region, len(ch.Refs))
	for _, ref := range ch.Refs {
		lists := make([][]region.Region, len(p.inputs))
		for i := range p.inputs {
			lists[i] = perInput[i][ref.Name]
		}
		merged, err := ends.Merge(branchName(stageMergedEnds, ch, ref.Name), lists...)
		if err != nil {
			return err
		}
		out[ref.Name] = merged
	}
	return p.store.Put(k, out)
}

// runFilteredEnds applies the read-count floor and the downstream-polyA
// rejection.
func (p *Pipeline) runFilteredEnds(ctx context.Context, ch chunk.Chunk, k Key) error {
	var merged map[string][]region.Region
	if err := p.store.Get(Key{Stage: stageMergedEnds, Chunk: ch.Index}, &merged); err != nil {
		return err
	}
	out := make(map[string][]region.Region, len(ch.Refs))
	for _, ref := range ch.Refs {
		filtered, err := ends.Filter(ctx, merged[ref.Name], p.seq)
		if err != nil {
			return err
		}
		out[ref.Name] = filtered
	}
	return p.store.Put(k, out)
}

// runChosenEnds picks one 3' end per region.
func (p *Pipeline) runChosenEnds(ctx context.Context, ch chunk.Chunk, k Key) error {
	var filtered map[string][]region.Region
	if err := p.store.Get(Key{Stage: stageFilteredEnds, Chunk: ch.Index}, &filtered); err != nil {
		return err
	}
	out := make(map[string][]region.Region, len(ch.Refs))
	for _, ref := range ch.Refs {
		out[ref.Name] = ends.Choose(filtered[ref.Name])
	}
	return p.store.Put(k, out)
}

// tallyArtifact is one reference's output of the per-input counting
// stage. It carries the input's own copy of the region list so count
// merging can verify that all branches counted against identical regions.
type tallyArtifact struct {
	Regions []region.Region  `json:"regions"`
	Tallies []map[string]int `json:"tallies"`
}

// runTallies counts per-barcode read-2 support at the chosen ends for one
// input.
func (p *Pipeline) runTallies(ctx context.Context, input string, ch chunk.Chunk, k Key) error {
	var chosen map[string][]region.Region
	if err := p.store.Get(Key{Stage: stageChosenEnds, Chunk: ch.Index}, &chosen); err != nil {
		return err
	}
	r, err := bamio.Open(input, "")
	if err != nil {
		return err
	}
	defer r.Close()
	opts := counts.CountOpts{Tags: p.tags[input], MismatchThreshold: p.cfg.MismatchThreshold}
	out := make(map[string]tallyArtifact, len(ch.Refs))
	for _, ref := range ch.Refs {
		rs := chosen[ref.Name]
		if len(rs) == 0 {
			out[ref.Name] = tallyArtifact{}
			continue
		}
		lo, hi := regionSpan(rs)
		it, err := r.Query(ctx, ref.Name, lo, hi)
		if err != nil {
			return err
		}
		rc := &bamio.RejectCounts{}
		tallies, err := counts.Count(it, rs, opts, rc)
		if cerr := it.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
		rc.Log(k.String() + " " + ref.Name)
		out[ref.Name] = tallyArtifact{Regions: rs, Tallies: tallies}
	}
	return p.store.Put(k, out)
}

// runCounts stitches per-input tallies into per-sample count vectors.
func (p *Pipeline) runCounts(ctx context.Context, ch chunk.Chunk, k Key) error {
	perInput := make([]map[string]tallyArtifact, len(p.inputs))
	for i, input := range p.inputs {
		if err := p.store.Get(Key{Stage: stageTallies, Input: input, Chunk: ch.Index}, &perInput[i]); err != nil {
			return err
		}
	}
	sampleIndex := make(map[counts.SampleKey]int, len(p.cfg.Samples))
	for i, s := range p.cfg.Samples {
		sampleIndex[counts.SampleKey{Bam: s.BamFile, Tag: strings.ToUpper(s.Tag)}] = i
	}
	out := make(map[string][]region.Region, len(ch.Refs))
	for _, ref := range ch.Refs {
		inputs := make([]counts.Input, len(p.inputs))
		for i, input := range p.inputs {
			art := perInput[i][ref.Name]
			inputs[i] = counts.Input{Bam: input, Regions: art.Regions, Tallies: art.Tallies}
		}
		merged, err := counts.Merge(branchName(stageCounts, ch, ref.Name), sampleIndex, len(p.cfg.Samples), inputs)
		if err != nil {
			return err
		}
		out[ref.Name] = merged
	}
	return p.store.Put(k, out)
}
