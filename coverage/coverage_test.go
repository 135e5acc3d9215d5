package coverage

import (
	"testing"

	"github.com/grailbio/hts/sam"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terminusbio/terminus/bamio"
	"github.com/terminusbio/terminus/barcode"
)

var chr2 = mustRef("2", 10000)

func mustRef(name string, length int) *sam.Reference {
	ref, err := sam.NewReference(name, "", "", length, nil, nil)
	if err != nil {
		panic(err)
	}
	return ref
}

func mustTags(seqs ...string) *barcode.Set {
	set, err := barcode.NewSet(seqs)
	if err != nil {
		panic(err)
	}
	return set
}

// read2 builds a tagged read-2 alignment covering the 1-based inclusive
// interval [start, end].
func read2(name string, start, end, strand int, extra sam.Flags) *sam.Record {
	flags := sam.Paired | sam.Read2 | extra
	if strand == -1 {
		flags |= sam.Reverse
	} else {
		flags |= sam.MateReverse
	}
	return &sam.Record{
		Name:    name,
		Ref:     chr2,
		Pos:     start - 1,
		Flags:   flags,
		MateRef: chr2,
		MatePos: start + 200,
		Cigar:   sam.Cigar{sam.NewCigarOp(sam.CigarMatch, end - start + 1)},
	}
}

func TestAccept(t *testing.T) {
	f := &Filter{Tags: mustTags("NNGC"), MismatchThreshold: 0}
	tests := []struct {
		rec  *sam.Record
		want bool
	}{
		{read2("a#AAGC", 100, 149, 1, 0), true},
		{read2("a#AATT", 100, 149, 1, 0), false},          // tag mismatch
		{read2("a#AAGC", 100, 149, 1, sam.Duplicate), false},
		{read2("a#AAGC", 100, 149, 1, sam.Unmapped), false},
	}
	for i, tt := range tests {
		rc := &bamio.RejectCounts{}
		assert.Equal(t, tt.want, f.Accept(tt.rec, rc), "case %d", i)
	}

	// Read-1 never counts toward coverage.
	rc := &bamio.RejectCounts{}
	r1 := read2("a#AAGC", 100, 149, 1, 0)
	r1.Flags &^= sam.Read2
	assert.False(t, f.Accept(r1, rc))
	assert.Equal(t, 1, rc.NotRead2)
}

func TestAcceptMismatchThreshold(t *testing.T) {
	f := &Filter{MismatchThreshold: 0}
	r := read2("a", 100, 149, 1, 0)
	aux, err := sam.NewAux(sam.NewTag("NM"), uint8(1))
	require.NoError(t, err)
	r.AuxFields = sam.AuxFields{aux}
	rc := &bamio.RejectCounts{}
	assert.False(t, f.Accept(r, rc))
	assert.Equal(t, 1, rc.Mismatch)
}

func TestBinReads(t *testing.T) {
	recs := []*sam.Record{
		read2("a#AAGC", 1, 50, 1, 0),      // bin 0
		read2("b#AAGC", 95, 144, 1, 0),    // bins 0 and 1
		read2("c#AAGC", 101, 150, 1, 0),   // bin 1
		read2("d#AAGC", 995, 1044, -1, 0), // bins 9 and 10, reverse
	}
	f := &Filter{Tags: mustTags("NNGC"), MismatchThreshold: 0}
	rc := &bamio.RejectCounts{}
	bins, err := BinReads(bamio.NewSliceIterator(recs), f, 100, rc)
	require.NoError(t, err)
	assert.Equal(t, map[int]int{0: 2, 1: 2}, bins.Fwd)
	assert.Equal(t, map[int]int{9: 1, 10: 1}, bins.Rev)
	assert.Equal(t, 4, rc.Kept)
}

func TestBuildPeaks(t *testing.T) {
	recs := []*sam.Record{
		// First forward peak: three reads within the buffer.
		read2("a#AAGC", 195, 244, 1, 0),
		read2("b#AAGC", 215, 264, 1, 0),
		read2("c#AAGC", 245, 294, 1, 0),
		// Gap of exactly bufferWidth starts a new peak.
		read2("d#AAGC", 394, 443, 1, 0),
		// Reverse-strand peak interleaved in coordinate order.
		read2("e#AAGC", 400, 449, -1, 0),
		read2("f#AAGC", 420, 469, -1, 0),
	}
	f := &Filter{Tags: mustTags("NNGC"), MismatchThreshold: 0}
	rc := &bamio.RejectCounts{}
	peaks, err := BuildPeaks(bamio.NewSliceIterator(recs), f, 100, rc)
	require.NoError(t, err)
	assert.Equal(t, []Peak{{Start: 195, End: 294, Count: 3}, {Start: 394, End: 443, Count: 1}}, peaks.Fwd)
	assert.Equal(t, []Peak{{Start: 400, End: 469, Count: 2}}, peaks.Rev)
}

func TestBuildPeaksGapRule(t *testing.T) {
	f := &Filter{}
	// Gap of bufferWidth-1 joins, bufferWidth splits.
	join := []*sam.Record{read2("a", 100, 149, 1, 0), read2("b", 248, 297, 1, 0)}
	rc := &bamio.RejectCounts{}
	peaks, err := BuildPeaks(bamio.NewSliceIterator(join), f, 100, rc)
	require.NoError(t, err)
	require.Len(t, peaks.Fwd, 1)
	assert.Equal(t, Peak{Start: 100, End: 297, Count: 2}, peaks.Fwd[0])

	split := []*sam.Record{read2("a", 100, 149, 1, 0), read2("b", 249, 298, 1, 0)}
	rc = &bamio.RejectCounts{}
	peaks, err = BuildPeaks(bamio.NewSliceIterator(split), f, 100, rc)
	require.NoError(t, err)
	require.Len(t, peaks.Fwd, 2)
}

func TestBuildPeaksContainedRead(t *testing.T) {
	f := &Filter{}
	// A read contained in the current peak must not move the peak end
	// backwards.
	recs := []*sam.Record{read2("a", 100, 300, 1, 0), read2("b", 120, 169, 1, 0)}
	rc := &bamio.RejectCounts{}
	peaks, err := BuildPeaks(bamio.NewSliceIterator(recs), f, 100, rc)
	require.NoError(t, err)
	require.Len(t, peaks.Fwd, 1)
	assert.Equal(t, Peak{Start: 100, End: 300, Count: 2}, peaks.Fwd[0])
}

func TestMergePeaksSingleListIsIdentity(t *testing.T) {
	list := []Peak{{Start: 100, End: 200, Count: 3}, {Start: 500, End: 600, Count: 1}}
	assert.Equal(t, list, MergePeaks(100, list))
}

func TestMergePeaks(t *testing.T) {
	a := []Peak{{Start: 100, End: 200, Count: 3}, {Start: 500, End: 600, Count: 1}}
	b := []Peak{{Start: 250, End: 320, Count: 2}, {Start: 800, End: 850, Count: 4}}
	got := MergePeaks(100, a, b)
	assert.Equal(t, []Peak{
		{Start: 100, End: 320, Count: 5}, // 200 -> 250 gap is under the buffer
		{Start: 500, End: 600, Count: 1},
		{Start: 800, End: 850, Count: 4},
	}, got)
}

func TestMergeBins(t *testing.T) {
	a := &Bins{Fwd: map[int]int{0: 2, 1: 1}, Rev: map[int]int{5: 3}}
	b := &Bins{Fwd: map[int]int{1: 4}, Rev: map[int]int{}}
	got := MergeBins(a, b)
	assert.Equal(t, map[int]int{0: 2, 1: 5}, got.Fwd)
	assert.Equal(t, map[int]int{5: 3}, got.Rev)
}
