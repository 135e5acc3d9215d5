package table

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terminusbio/terminus/region"
)

func TestWrite(t *testing.T) {
	regions := []region.Region{
		{
			Chrom: "1", Start: 1000, End: 1500, MaxReadCount: 12, LogProbSum: -3.5, Strand: 1,
			Chosen:       region.ThreePrime{Found: true, Chrom: "1", Pos: 1500, Strand: 1, ReadCount: 9},
			SampleCounts: []int{10, 20},
		},
		{
			Chrom: "2", Start: 300, End: 700, MaxReadCount: 4, LogProbSum: -1, Strand: -1,
			Chosen:       region.ThreePrime{Found: false, Strand: -1},
			SampleCounts: []int{0, 3},
		},
	}
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, regions, []string{"wt_1", "mut_1"}))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t,
		"chr\tregion_start\tregion_end\tmax_read_count\tlog_prob_sum\tend_chr\tend_position\tend_strand\tend_read_count\twt_1\tmut_1",
		lines[0])
	assert.Equal(t, "1\t1000\t1500\t12\t-3.5\t1\t1500\t+1\t9\t10\t20", lines[1])
	assert.Equal(t, "2\t300\t700\t4\t-1\tnone\tnone\t-1\tnone\t0\t3", lines[2])
}

func TestWriteCountMismatch(t *testing.T) {
	regions := []region.Region{{
		Chrom: "1", Start: 1, End: 2,
		Chosen:       region.ThreePrime{Found: false, Strand: 1},
		SampleCounts: []int{1},
	}}
	var buf bytes.Buffer
	assert.Error(t, Write(&buf, regions, []string{"a", "b"}))
}

func TestWriteEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, nil, []string{"a"}))
	assert.Equal(t, 1, strings.Count(buf.String(), "\n"))
}
