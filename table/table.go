// Package table renders the final per-region, per-sample count matrix as a
// tab-separated table for the downstream statistical testing step.
package table

import (
	"bufio"
	"fmt"
	"io"
	"strconv"

	"github.com/pkg/errors"

	"github.com/terminusbio/terminus/region"
)

// none marks the columns of an absent chosen 3' end.
const none = "none"

// Write renders regions, which must already be ordered by (chromosome,
// region start), with one count column per sample name.
func Write(w io.Writer, regions []region.Region, sampleNames []string) error {
	bw := bufio.NewWriter(w)
	fmt.Fprint(bw, "chr\tregion_start\tregion_end\tmax_read_count\tlog_prob_sum\tend_chr\tend_position\tend_strand\tend_read_count")
	for _, name := range sampleNames {
		fmt.Fprintf(bw, "\t%s", name)
	}
	fmt.Fprintln(bw)
	for i := range regions {
		r := &regions[i]
		fmt.Fprintf(bw, "%s\t%d\t%d\t%d\t%s", r.Chrom, r.Start, r.End, r.MaxReadCount,
			strconv.FormatFloat(r.LogProbSum, 'g', -1, 64))
		if r.Chosen.Found {
			fmt.Fprintf(bw, "\t%s\t%d\t%+d\t%d", r.Chosen.Chrom, r.Chosen.Pos, r.Chosen.Strand, r.Chosen.ReadCount)
		} else {
			fmt.Fprintf(bw, "\t%s\t%s\t%+d\t%s", none, none, r.Chosen.Strand, none)
		}
		if len(r.SampleCounts) != len(sampleNames) {
			return errors.Errorf("region %s:%d-%d has %d sample counts for %d samples",
				r.Chrom, r.Start, r.End, len(r.SampleCounts), len(sampleNames))
		}
		for _, n := range r.SampleCounts {
			fmt.Fprintf(bw, "\t%d", n)
		}
		fmt.Fprintln(bw)
	}
	return bw.Flush()
}
