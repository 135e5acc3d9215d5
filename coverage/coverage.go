// Package coverage turns filtered read-2 alignments into per-strand binned
// counts and buffered-proximity peaks. Both traversals are single-pass over
// a coordinate-sorted iterator and deterministic for a given input.
package coverage

import (
	"sort"

	"github.com/grailbio/hts/sam"

	"github.com/terminusbio/terminus/bamio"
	"github.com/terminusbio/terminus/barcode"
	"github.com/terminusbio/terminus/region"
)

// Filter bundles the read-2 coverage predicates: mapped, not a duplicate,
// under the mismatch threshold, molecular tag matched.
type Filter struct {
	Tags              *barcode.Set
	MismatchThreshold int
}

// Accept reports whether rec passes, tallying the reason into rc when it
// does not. Cheap flag checks run before the NM and CIGAR lookups.
func (f *Filter) Accept(rec *sam.Record, rc *bamio.RejectCounts) bool {
	if !bamio.IsRead2(rec) {
		rc.NotRead2++
		return false
	}
	if bamio.IsDuplicate(rec) {
		rc.Duplicate++
		return false
	}
	if bamio.IsUnmapped(rec) {
		rc.Unmapped++
		return false
	}
	if bamio.AboveMismatchThreshold(rec, f.MismatchThreshold) {
		rc.Mismatch++
		return false
	}
	if f.Tags != nil {
		if _, ok := f.Tags.Match(rec.Name); !ok {
			rc.NoTag++
			return false
		}
	}
	rc.Kept++
	return true
}

// Bins holds per-strand bin -> read count maps. Bin b covers the half-open
// interval [b*W, (b+1)*W) of 0-based coordinates for bin width W.
type Bins struct {
	Fwd map[int]int `json:"fwd"`
	Rev map[int]int `json:"rev"`
}

// NewBins returns an empty Bins.
func NewBins() *Bins {
	return &Bins{Fwd: make(map[int]int), Rev: make(map[int]int)}
}

// Strand returns the map for the given strand.
func (b *Bins) Strand(strand int) map[int]int {
	if strand == region.Reverse {
		return b.Rev
	}
	return b.Fwd
}

// BinReads counts accepted read-2s per strand per bin. A read spanning
// multiple bins increments each bin it touches.
func BinReads(it bamio.Iterator, f *Filter, binSize int, rc *bamio.RejectCounts) (*Bins, error) {
	bins := NewBins()
	for it.Scan() {
		rec := it.Record()
		if !f.Accept(rec, rc) {
			continue
		}
		m := bins.Strand(bamio.Strand(rec))
		first := rec.Pos / binSize
		last := (rec.End() - 1) / binSize
		for b := first; b <= last; b++ {
			m[b]++
		}
	}
	return bins, it.Err()
}

// Peak is a closed 1-based interval of clustered read-2 alignments on one
// strand.
type Peak struct {
	Start int `json:"start"`
	End   int `json:"end"`
	Count int `json:"count"`
}

// PeakSet holds the per-strand peak lists of one reference, each in
// coordinate order.
type PeakSet struct {
	Fwd []Peak `json:"fwd"`
	Rev []Peak `json:"rev"`
}

// builder accumulates one strand's current peak.
type builder struct {
	open bool
	cur  Peak
	out  []Peak
}

// add folds the read interval [rs, re] into the current peak, starting a
// new one when the gap to the peak end reaches bufferWidth.
func (b *builder) add(rs, re, bufferWidth int) {
	if !b.open {
		b.open = true
		b.cur = Peak{Start: rs, End: re, Count: 1}
		return
	}
	if rs-b.cur.End < bufferWidth {
		if re > b.cur.End {
			b.cur.End = re
		}
		b.cur.Count++
		return
	}
	b.out = append(b.out, b.cur)
	b.cur = Peak{Start: rs, End: re, Count: 1}
}

func (b *builder) finish() []Peak {
	if b.open {
		b.out = append(b.out, b.cur)
		b.open = false
	}
	return b.out
}

// BuildPeaks clusters accepted read-2s into per-strand peaks. The input
// iterator must be coordinate sorted; given that, the result is uniquely
// determined by bufferWidth.
func BuildPeaks(it bamio.Iterator, f *Filter, bufferWidth int, rc *bamio.RejectCounts) (*PeakSet, error) {
	var fwd, rev builder
	for it.Scan() {
		rec := it.Record()
		if !f.Accept(rec, rc) {
			continue
		}
		b := &fwd
		if bamio.Strand(rec) == region.Reverse {
			b = &rev
		}
		b.add(bamio.Start1(rec), bamio.End1(rec), bufferWidth)
	}
	return &PeakSet{Fwd: fwd.finish(), Rev: rev.finish()}, it.Err()
}

// MergePeaks unions per-input peak lists for one (reference, strand) with
// the same buffered-proximity rule used at construction. Counts of peaks
// folded together add up. Merging a single list with itself would double
// the counts, so callers pass each input's list exactly once; merging one
// list alone returns it unchanged.
func MergePeaks(bufferWidth int, lists ...[]Peak) []Peak {
	if len(lists) == 1 {
		return lists[0]
	}
	var all []Peak
	for _, l := range lists {
		all = append(all, l...)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Start != all[j].Start {
			return all[i].Start < all[j].Start
		}
		return all[i].End < all[j].End
	})
	var out []Peak
	for _, p := range all {
		if len(out) > 0 && p.Start-out[len(out)-1].End < bufferWidth {
			last := &out[len(out)-1]
			if p.End > last.End {
				last.End = p.End
			}
			last.Count += p.Count
		} else {
			out = append(out, p)
		}
	}
	return out
}

// MergeBins sums per-bin counts across inputs.
func MergeBins(all ...*Bins) *Bins {
	out := NewBins()
	for _, b := range all {
		if b == nil {
			continue
		}
		for bin, n := range b.Fwd {
			out.Fwd[bin] += n
		}
		for bin, n := range b.Rev {
			out.Rev[bin] += n
		}
	}
	return out
}
