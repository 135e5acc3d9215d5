package ends

import (
	"github.com/terminusbio/terminus/region"
)

// Merge fuses per-input candidate lists for structurally identical region
// lists. The lists must agree field-for-field on the region identity tuple
// at every index; any divergence is fatal. Candidate read counts for
// identical (chrom, pos, strand) keys add up, and the fused list is
// reordered by descending count. Merging a single list is the identity.
func Merge(branch string, lists ...[]region.Region) ([]region.Region, error) {
	if len(lists) == 0 {
		return nil, nil
	}
	if err := region.ZipIdentical(branch, lists...); err != nil {
		return nil, err
	}
	if len(lists) == 1 {
		return lists[0], nil
	}
	out := make([]region.Region, len(lists[0]))
	copy(out, lists[0])
	for i := range out {
		fused := make(map[region.Candidate]int)
		for _, l := range lists {
			for _, c := range l[i].Candidates {
				key := region.Candidate{Chrom: c.Chrom, Pos: c.Pos, Strand: c.Strand}
				fused[key] += c.ReadCount
			}
		}
		out[i].Candidates = sortCandidates(fused)
	}
	return out, nil
}
