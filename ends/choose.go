package ends

import (
	"sort"

	"github.com/terminusbio/terminus/region"
)

// distance is the candidate's proximity to the nearer region bound.
// Candidates on a different reference than the region sort last; their
// distance is treated as infinite.
func distance(r *region.Region, c *region.Candidate) (int, bool) {
	if c.Chrom != r.Chrom {
		return 0, false
	}
	d1 := c.Pos - r.Start
	if d1 < 0 {
		d1 = -d1
	}
	d2 := c.Pos - r.End
	if d2 < 0 {
		d2 = -d2
	}
	if d2 < d1 {
		d1 = d2
	}
	return d1, true
}

// Choose picks the best surviving candidate of each region and adjusts the
// region's 3'-side bound to the chosen position. Candidates sort by read
// count descending, then by proximity to the nearer region bound, with
// off-reference candidates last; equal-count, equal-distance ties resolve
// to the smaller position so the choice is deterministic.
//
// The bound adjustment moves the region's 3' edge to the chosen end: on the
// forward strand the end moves to the position, on the reverse strand the
// start does. The adjustment is skipped when it would invert the region or
// when the position already equals the bound.
//
// A region with no surviving candidate gets an absent chosen end that still
// carries the region's own strand.
func Choose(regions []region.Region) []region.Region {
	out := make([]region.Region, len(regions))
	copy(out, regions)
	for i := range out {
		r := &out[i]
		if len(r.Candidates) == 0 {
			r.Chosen = region.ThreePrime{Found: false, Strand: r.Strand}
			continue
		}
		cands := make([]region.Candidate, len(r.Candidates))
		copy(cands, r.Candidates)
		sort.SliceStable(cands, func(a, b int) bool {
			ca, cb := &cands[a], &cands[b]
			if ca.ReadCount != cb.ReadCount {
				return ca.ReadCount > cb.ReadCount
			}
			da, aOn := distance(r, ca)
			db, bOn := distance(r, cb)
			if aOn != bOn {
				return aOn
			}
			if aOn && da != db {
				return da < db
			}
			return ca.Pos < cb.Pos
		})
		best := cands[0]
		r.Chosen = region.ThreePrime{
			Found:     true,
			Chrom:     best.Chrom,
			Pos:       best.Pos,
			Strand:    best.Strand,
			ReadCount: best.ReadCount,
		}
		if best.Chrom != r.Chrom {
			continue
		}
		if r.Strand == region.Forward {
			if best.Pos > r.Start && best.Pos != r.End {
				r.End = best.Pos
			}
		} else {
			if best.Pos < r.End && best.Pos != r.Start {
				r.Start = best.Pos
			}
		}
	}
	return out
}
