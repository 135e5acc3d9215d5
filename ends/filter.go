package ends

import (
	"context"
	"regexp"
	"strings"

	"github.com/terminusbio/terminus/fasta"
	"github.com/terminusbio/terminus/region"
)

const (
	// minReadCount is the exclusive floor on candidate support: candidates
	// with read counts at or below it are discarded.
	minReadCount = 3
	// polyAWindow is the number of downstream bases inspected for
	// adenine-rich internal-priming artifacts.
	polyAWindow = 10
	// maxWindowA is the largest tolerated number of A's in the window.
	maxWindowA = 6
)

// spacedA matches near-contiguous adenine runs at the start of the window:
// four A's in the first five bases with a single interruption. Reads primed
// off such stretches masquerade as cleavage sites.
var spacedA = []*regexp.Regexp{
	regexp.MustCompile(`^AAA[^A]A`),
	regexp.MustCompile(`^AA[^A]AA`),
	regexp.MustCompile(`^A[^A]AAA`),
}

// DownstreamPolyA reports whether the window looks too adenine-rich to be a
// real cleavage site: four or more leading A's, more than six A's in
// total, or a spaced adenine run at the start.
func DownstreamPolyA(window string) bool {
	window = strings.ToUpper(window)
	if len(window) > polyAWindow {
		window = window[:polyAWindow]
	}
	if strings.HasPrefix(window, "AAAA") {
		return true
	}
	if strings.Count(window, "A") > maxWindowA {
		return true
	}
	for _, re := range spacedA {
		if re.MatchString(window) {
			return true
		}
	}
	return false
}

// Filter drops candidates supported by minReadCount or fewer reads, then
// drops survivors whose 10 bp downstream window is polyA-like. Region
// order and identity are preserved; only candidate lists change.
func Filter(ctx context.Context, regions []region.Region, seq fasta.Source) ([]region.Region, error) {
	out := make([]region.Region, len(regions))
	copy(out, regions)
	for i := range out {
		var kept []region.Candidate
		for _, c := range out[i].Candidates {
			if c.ReadCount <= minReadCount {
				continue
			}
			window, err := seq.Downstream(ctx, c.Chrom, c.Pos, c.Strand, polyAWindow)
			if err != nil {
				return nil, err
			}
			if DownstreamPolyA(window) {
				continue
			}
			kept = append(kept, c)
		}
		out[i].Candidates = kept
	}
	return out, nil
}
