// Package ends derives transcript 3'-end candidates from mate alignments,
// merges candidate lists across inputs, rejects polyA-artifact candidates,
// and picks the best end per region.
package ends

import (
	"sort"

	"github.com/biogo/store/interval"
	"github.com/grailbio/hts/sam"

	"github.com/terminusbio/terminus/bamio"
	"github.com/terminusbio/terminus/barcode"
	"github.com/terminusbio/terminus/region"
)

// ExtractOpts parameterizes candidate extraction over one reference.
type ExtractOpts struct {
	Tags              *barcode.Set
	MismatchThreshold int
	// Read2Length stands in for the mate CIGAR when computing the mate's
	// alignment end; BAM records do not carry it.
	Read2Length int
}

// regionInterval adapts a region index to the interval tree.
type regionInterval struct {
	start, end int // 0-based half-open
	id         uintptr
	idx        int
}

func (iv regionInterval) Overlap(b interval.IntRange) bool {
	return iv.end > b.Start && iv.start < b.End
}
func (iv regionInterval) ID() uintptr              { return iv.id }
func (iv regionInterval) Range() interval.IntRange { return interval.IntRange{Start: iv.start, End: iv.end} }

// newRegionTree indexes regions by their genomic interval.
func newRegionTree(regions []region.Region) *interval.IntTree {
	tree := &interval.IntTree{}
	for i, r := range regions {
		iv := regionInterval{start: r.Start - 1, end: r.End, id: uintptr(i), idx: i}
		_ = tree.Insert(iv, true)
	}
	tree.AdjustRanges()
	return tree
}

type query struct{ start, end int }

func (q query) Overlap(b interval.IntRange) bool { return q.end > b.Start && q.start < b.End }

// Extract scans the read-2 alignments yielded by it, which must cover the
// span of regions on one reference, and attaches 3'-end candidates to each
// region. The candidate position is the mate end for forward-strand
// regions and the mate start for reverse-strand ones; a read contributes to
// every region it overlaps whose strand matches the read's. The returned
// list preserves region order and identity; per-region candidates are
// ordered by descending read count, position breaking ties.
func Extract(it bamio.Iterator, regions []region.Region, opts ExtractOpts, rc *bamio.RejectCounts) ([]region.Region, error) {
	out := make([]region.Region, len(regions))
	copy(out, regions)
	// counts[i] accumulates per (chrom, pos) read support for region i.
	counts := make([]map[region.Candidate]int, len(regions))
	tree := newRegionTree(regions)

	for it.Scan() {
		rec := it.Record()
		if !accept(rec, opts, rc) {
			continue
		}
		strand := bamio.Strand(rec)
		var pos int
		if strand == region.Forward {
			pos = bamio.MateEnd1(rec, opts.Read2Length)
		} else {
			pos = bamio.MateStart1(rec)
		}
		key := region.Candidate{Chrom: rec.Ref.Name(), Pos: pos, Strand: strand}
		for _, hit := range tree.Get(query{start: rec.Pos, end: rec.End()}) {
			i := hit.(regionInterval).idx
			if regions[i].Strand != strand {
				continue
			}
			if counts[i] == nil {
				counts[i] = make(map[region.Candidate]int)
			}
			counts[i][key]++
		}
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Candidates = sortCandidates(counts[i])
	}
	return out, nil
}

// accept applies the extraction filters with the cheap flag tests first.
func accept(rec *sam.Record, opts ExtractOpts, rc *bamio.RejectCounts) bool {
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
	if !bamio.MateOnSameRef(rec) {
		rc.MateAbsent++
		return false
	}
	// Read-1 must lie on the opposite strand of read-2 for the mate end to
	// mark a 3' cleavage site.
	if bamio.MateStrand(rec) == bamio.Strand(rec) {
		rc.MateAbsent++
		return false
	}
	if bamio.AboveMismatchThreshold(rec, opts.MismatchThreshold) {
		rc.Mismatch++
		return false
	}
	if opts.Tags != nil {
		if _, ok := opts.Tags.Match(rec.Name); !ok {
			rc.NoTag++
			return false
		}
	}
	rc.Kept++
	return true
}

func sortCandidates(m map[region.Candidate]int) []region.Candidate {
	if len(m) == 0 {
		return nil
	}
	out := make([]region.Candidate, 0, len(m))
	for key, n := range m {
		key.ReadCount = n
		out = append(out, key)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ReadCount != out[j].ReadCount {
			return out[i].ReadCount > out[j].ReadCount
		}
		if out[i].Chrom != out[j].Chrom {
			return out[i].Chrom < out[j].Chrom
		}
		return out[i].Pos < out[j].Pos
	})
	return out
}
