// Package counts tallies read-2 support per molecular tag at the chosen
// 3' ends and stitches per-input tallies into per-sample count vectors.
package counts

import (
	"fmt"

	"github.com/biogo/store/interval"

	"github.com/terminusbio/terminus/bamio"
	"github.com/terminusbio/terminus/barcode"
	"github.com/terminusbio/terminus/region"
)

// CountOpts parameterizes per-input counting over one reference.
type CountOpts struct {
	Tags              *barcode.Set
	MismatchThreshold int
}

type regionInterval struct {
	start, end int
	id         uintptr
	idx        int
}

func (iv regionInterval) Overlap(b interval.IntRange) bool {
	return iv.end > b.Start && iv.start < b.End
}
func (iv regionInterval) ID() uintptr              { return iv.id }
func (iv regionInterval) Range() interval.IntRange { return interval.IntRange{Start: iv.start, End: iv.end} }

type query struct{ start, end int }

func (q query) Overlap(b interval.IntRange) bool { return q.end > b.Start && q.start < b.End }

// Count tallies, for every region, the read-2s overlapping it whose strand
// equals the region's chosen 3'-end strand, keyed by matched barcode. The
// iterator must cover the span of regions on one reference. The result is
// parallel to regions; entries are nil for regions no read touched.
func Count(it bamio.Iterator, regions []region.Region, opts CountOpts, rc *bamio.RejectCounts) ([]map[string]int, error) {
	out := make([]map[string]int, len(regions))
	tree := &interval.IntTree{}
	for i, r := range regions {
		_ = tree.Insert(regionInterval{start: r.Start - 1, end: r.End, id: uintptr(i), idx: i}, true)
	}
	tree.AdjustRanges()

	for it.Scan() {
		rec := it.Record()
		if !bamio.IsRead2(rec) {
			rc.NotRead2++
			continue
		}
		if bamio.IsDuplicate(rec) {
			rc.Duplicate++
			continue
		}
		if bamio.IsUnmapped(rec) {
			rc.Unmapped++
			continue
		}
		if bamio.AboveMismatchThreshold(rec, opts.MismatchThreshold) {
			rc.Mismatch++
			continue
		}
		bc, ok := opts.Tags.Match(rec.Name)
		if !ok {
			rc.NoTag++
			continue
		}
		rc.Kept++
		strand := bamio.Strand(rec)
		for _, hit := range tree.Get(query{start: rec.Pos, end: rec.End()}) {
			i := hit.(regionInterval).idx
			if regions[i].Chosen.Strand != strand {
				continue
			}
			if out[i] == nil {
				out[i] = make(map[string]int)
			}
			out[i][bc.Seq]++
		}
	}
	return out, it.Err()
}

// SampleKey identifies the (input file, barcode) pair a count came from.
type SampleKey struct {
	Bam string
	Tag string
}

// Input is one branch entering the count merge: the input's region list
// with chosen ends and the per-region barcode tallies parallel to it.
type Input struct {
	Bam     string
	Regions []region.Region
	Tallies []map[string]int
}

// Merge aligns per-input barcode tallies into per-region sample count
// vectors ordered by sample index. Region lists across inputs must agree
// on the identity tuple through the chosen 3' end; a tally for an
// (input, barcode) pair absent from sampleIndex is fatal. Every sample
// slot is filled, with zero for samples whose reads never touched the
// region.
func Merge(branch string, sampleIndex map[SampleKey]int, nSamples int, inputs []Input) ([]region.Region, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	lists := make([][]region.Region, len(inputs))
	for i, in := range inputs {
		if len(in.Tallies) != len(in.Regions) {
			return nil, &region.MismatchError{
				Branch: branch,
				Index:  -1,
				Detail: fmt.Sprintf("input %s: %d tallies for %d regions", in.Bam, len(in.Tallies), len(in.Regions)),
			}
		}
		lists[i] = in.Regions
	}
	if err := region.ZipChosenIdentical(branch, lists...); err != nil {
		return nil, err
	}
	out := make([]region.Region, len(inputs[0].Regions))
	copy(out, inputs[0].Regions)
	for ri := range out {
		vec := make([]int, nSamples)
		for _, in := range inputs {
			for tag, n := range in.Tallies[ri] {
				idx, ok := sampleIndex[SampleKey{Bam: in.Bam, Tag: tag}]
				if !ok {
					return nil, &region.MismatchError{
						Branch: branch,
						Index:  ri,
						Detail: fmt.Sprintf("no sample for input %s barcode %s", in.Bam, tag),
					}
				}
				vec[idx] += n
			}
		}
		out[ri].SampleCounts = vec
	}
	return out, nil
}
