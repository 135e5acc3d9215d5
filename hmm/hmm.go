// Package hmm drives the external HMM segmentation binary over merged
// binned coverage and joins its positive-state bins into candidate
// transcript regions. The binary itself is a black box behind the
// Segmenter interface so tests can substitute canned assignments.
package hmm

import (
	"context"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/terminusbio/terminus/coverage"
	"github.com/terminusbio/terminus/region"
)

// Summary describes one reference's coverage for the segmenter.
type Summary struct {
	RefName      string  `json:"ref_name"`
	TotalBP      int     `json:"total_bp"`
	ReadLength   int     `json:"read_length"`
	SigLevel     float64 `json:"sig_level"`
	BinSize      int     `json:"bin_size"`
	MeanCoverage float64 `json:"mean_coverage"`
}

// BinCount is one populated bin handed to the segmenter.
type BinCount struct {
	Bin   int `json:"bin"`
	Count int `json:"count"`
}

// BinState is the segmenter's assignment for one input bin. States are
// parallel to the input bins, in the same order. A state greater than zero
// marks the bin as inside a transcript.
type BinState struct {
	Bin     int     `json:"bin"`
	State   int     `json:"state"`
	LogProb float64 `json:"log_prob"`
}

// Segmenter assigns a state to every input bin. Implementations must be
// deterministic: the same bins and summary always yield the same states.
type Segmenter interface {
	Segment(ctx context.Context, bins []BinCount, sum Summary) ([]BinState, error)
}

// NewSummary derives the per-reference summary record. Mean coverage is
// computed over the populated bins of both strands.
func NewSummary(refName string, totalBP, readLength, binSize int, sigLevel float64, bins *coverage.Bins) Summary {
	var counts []float64
	for _, n := range bins.Fwd {
		counts = append(counts, float64(n))
	}
	for _, n := range bins.Rev {
		counts = append(counts, float64(n))
	}
	mean := 0.0
	if len(counts) > 0 {
		mean = stat.Mean(counts, nil)
	}
	return Summary{
		RefName:      refName,
		TotalBP:      totalBP,
		ReadLength:   readLength,
		SigLevel:     sigLevel,
		BinSize:      binSize,
		MeanCoverage: mean,
	}
}

// SortedBins flattens one strand's bin map into ascending bin order.
func SortedBins(m map[int]int) []BinCount {
	out := make([]BinCount, 0, len(m))
	for b, n := range m {
		out = append(out, BinCount{Bin: b, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Bin < out[j].Bin })
	return out
}

// JoinRegions folds runs of consecutive positive-state bins into regions.
// bins and states are parallel. Each region carries the maximum bin count
// of its run and the sum of the per-bin log probabilities. Coordinates are
// 1-based inclusive.
func JoinRegions(chrom string, strand, binSize int, bins []BinCount, states []BinState) []region.Region {
	var out []region.Region
	var run []int // indices into bins/states of the current positive run
	flush := func() {
		if len(run) == 0 {
			return
		}
		first, last := bins[run[0]].Bin, bins[run[len(run)-1]].Bin
		maxCount := 0
		logProbs := make([]float64, 0, len(run))
		for _, i := range run {
			if bins[i].Count > maxCount {
				maxCount = bins[i].Count
			}
			logProbs = append(logProbs, states[i].LogProb)
		}
		out = append(out, region.Region{
			Chrom:        chrom,
			Start:        first*binSize + 1,
			End:          (last + 1) * binSize,
			MaxReadCount: maxCount,
			LogProbSum:   floats.Sum(logProbs),
			Strand:       strand,
		})
		run = run[:0]
	}
	for i := range states {
		if states[i].State <= 0 {
			flush()
			continue
		}
		if len(run) > 0 && bins[i].Bin != bins[run[len(run)-1]].Bin+1 {
			// A gap in bin numbering breaks the run even when both sides
			// are positive.
			flush()
		}
		run = append(run, i)
	}
	flush()
	return out
}

// BinsInPeaks restricts one strand's bin map to the bins covered by the
// merged peaks, in ascending bin order. Coverage outside any peak is
// background the segmenter should never see.
func BinsInPeaks(m map[int]int, peaks []coverage.Peak, binSize int) []BinCount {
	if len(peaks) == 0 {
		return nil
	}
	keep := make(map[int]bool)
	for _, p := range peaks {
		for b := (p.Start - 1) / binSize; b <= (p.End - 1) / binSize; b++ {
			keep[b] = true
		}
	}
	var out []BinCount
	for b, n := range m {
		if keep[b] {
			out = append(out, BinCount{Bin: b, Count: n})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Bin < out[j].Bin })
	return out
}

// Regions runs the segmenter over both strands of one reference and
// returns the joined regions ordered by start position (strand breaks
// ties, forward first).
func Regions(ctx context.Context, seg Segmenter, chrom string, binSize int, merged *coverage.Bins, peaks *coverage.PeakSet, sum Summary) ([]region.Region, error) {
	var out []region.Region
	for _, strand := range []int{region.Forward, region.Reverse} {
		peakList := peaks.Fwd
		if strand == region.Reverse {
			peakList = peaks.Rev
		}
		bins := BinsInPeaks(merged.Strand(strand), peakList, binSize)
		if len(bins) == 0 {
			continue
		}
		states, err := seg.Segment(ctx, bins, sum)
		if err != nil {
			return nil, err
		}
		out = append(out, JoinRegions(chrom, strand, binSize, bins, states)...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		return out[i].Strand > out[j].Strand
	})
	return out, nil
}
