// Package region defines the candidate transcript regions produced by HMM
// segmentation of binned read coverage, the 3'-end candidates attached to
// them, and the structural-equality join used at every cross-branch merge
// point of the pipeline.
package region

import (
	"fmt"
)

// Forward and Reverse are the two strand values used throughout the
// pipeline. A strand is always one of these; there is no "unstranded"
// state.
const (
	Forward = 1
	Reverse = -1
)

// Candidate is one putative 3' end inside a region: a genomic position on a
// strand together with the number of read pairs supporting it.
type Candidate struct {
	Chrom     string `json:"chrom"`
	Pos       int    `json:"pos"`
	Strand    int    `json:"strand"`
	ReadCount int    `json:"read_count"`
}

// ThreePrime is the chosen 3' end of a region. It is a sum of two shapes:
// a present end (Found=true, all fields valid) and an absent end
// (Found=false) that still carries a valid Strand, falling back to the
// region's own strand when no candidate survived filtering.
type ThreePrime struct {
	Found     bool   `json:"found"`
	Chrom     string `json:"chrom,omitempty"`
	Pos       int    `json:"pos,omitempty"`
	Strand    int    `json:"strand"`
	ReadCount int    `json:"read_count,omitempty"`
}

// Region is a candidate transcript footprint. The first six fields are set
// at creation by the HMM region joiner; afterwards only the 3'-end chooser
// changes them, moving Start or End to the chosen 3' end. The remaining
// fields are filled in by successive pipeline stages (candidate extraction
// and merging, filtering, choosing, counting).
type Region struct {
	Chrom        string  `json:"chrom"`
	Start        int     `json:"start"`
	End          int     `json:"end"`
	MaxReadCount int     `json:"max_read_count"`
	LogProbSum   float64 `json:"log_prob_sum"`
	Strand       int     `json:"strand"`

	Candidates   []Candidate `json:"candidates,omitempty"`
	Chosen       ThreePrime  `json:"chosen,omitempty"`
	SampleCounts []int       `json:"sample_counts,omitempty"`
}

// Identity is the tuple compared at merge boundaries. Two regions produced
// by parallel branches refer to the same genomic segment iff their Identity
// values are equal.
type Identity struct {
	Chrom        string
	Start        int
	End          int
	MaxReadCount int
	LogProbSum   float64
	Strand       int
}

// Identity returns the merge-boundary identity tuple of r.
func (r *Region) Identity() Identity {
	return Identity{
		Chrom:        r.Chrom,
		Start:        r.Start,
		End:          r.End,
		MaxReadCount: r.MaxReadCount,
		LogProbSum:   r.LogProbSum,
		Strand:       r.Strand,
	}
}

// ChosenIdentity extends Identity with the chosen 3' end. Count merging
// verifies this wider tuple because by that point every branch must also
// agree on the chosen end.
type ChosenIdentity struct {
	Identity
	EndFound     bool
	EndChrom     string
	EndPos       int
	EndStrand    int
	EndReadCount int
}

// ChosenIdentity returns the count-merge identity tuple of r.
func (r *Region) ChosenIdentity() ChosenIdentity {
	return ChosenIdentity{
		Identity:     r.Identity(),
		EndFound:     r.Chosen.Found,
		EndChrom:     r.Chosen.Chrom,
		EndPos:       r.Chosen.Pos,
		EndStrand:    r.Chosen.Strand,
		EndReadCount: r.Chosen.ReadCount,
	}
}

// MismatchError reports a structural divergence between parallel region
// lists. It is fatal at the job level; the orchestrator surfaces it with
// the offending branch name.
type MismatchError struct {
	Branch string
	Index  int
	Detail string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("region mismatch in branch %s at index %d: %s", e.Branch, e.Index, e.Detail)
}

// ZipIdentical verifies that every list in lists has the same length as the
// first and that regions at equal indices carry equal Identity tuples.
// A divergence is returned as a MismatchError naming branch; callers treat
// it as fatal rather than aggregating across regions that do not line up.
func ZipIdentical(branch string, lists ...[]Region) error {
	if len(lists) < 2 {
		return nil
	}
	n := len(lists[0])
	for li := 1; li < len(lists); li++ {
		if len(lists[li]) != n {
			return &MismatchError{
				Branch: branch,
				Index:  -1,
				Detail: fmt.Sprintf("list lengths differ: %d vs %d", n, len(lists[li])),
			}
		}
		for i := 0; i < n; i++ {
			if a, b := lists[0][i].Identity(), lists[li][i].Identity(); a != b {
				return &MismatchError{
					Branch: branch,
					Index:  i,
					Detail: fmt.Sprintf("%+v != %+v", a, b),
				}
			}
		}
	}
	return nil
}

// ZipChosenIdentical is the count-merge variant of ZipIdentical: it compares
// the wider ChosenIdentity tuple.
func ZipChosenIdentical(branch string, lists ...[]Region) error {
	if len(lists) < 2 {
		return nil
	}
	n := len(lists[0])
	for li := 1; li < len(lists); li++ {
		if len(lists[li]) != n {
			return &MismatchError{
				Branch: branch,
				Index:  -1,
				Detail: fmt.Sprintf("list lengths differ: %d vs %d", n, len(lists[li])),
			}
		}
		for i := 0; i < n; i++ {
			if a, b := lists[0][i].ChosenIdentity(), lists[li][i].ChosenIdentity(); a != b {
				return &MismatchError{
					Branch: branch,
					Index:  i,
					Detail: fmt.Sprintf("%+v != %+v", a, b),
				}
			}
		}
	}
	return nil
}
