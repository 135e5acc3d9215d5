package bamio

import (
	"testing"

	"github.com/grailbio/hts/sam"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var chr1 = mustRef("1", 100000)

func mustRef(name string, length int) *sam.Reference {
	ref, err := sam.NewReference(name, "", "", length, nil, nil)
	if err != nil {
		panic(err)
	}
	return ref
}

func mustAux(name string, val interface{}) sam.Aux {
	aux, err := sam.NewAux(sam.NewTag(name), val)
	if err != nil {
		panic(err)
	}
	return aux
}

func newRecord(name string, ref *sam.Reference, pos int, flags sam.Flags, mateRef *sam.Reference, matePos int, cigar sam.Cigar, auxs ...sam.Aux) *sam.Record {
	return &sam.Record{
		Name:      name,
		Ref:       ref,
		Pos:       pos,
		Flags:     flags,
		MateRef:   mateRef,
		MatePos:   matePos,
		Cigar:     cigar,
		AuxFields: auxs,
	}
}

func cigarM(n int) sam.Cigar {
	return sam.Cigar{sam.NewCigarOp(sam.CigarMatch, n)}
}

func TestFlagPredicates(t *testing.T) {
	r := newRecord("a", chr1, 100, sam.Paired|sam.Read2|sam.Reverse, chr1, 300, cigarM(50))
	assert.True(t, IsPaired(r))
	assert.True(t, IsRead2(r))
	assert.False(t, IsDuplicate(r))
	assert.False(t, IsProperPair(r))
	assert.False(t, IsUnmapped(r))
	assert.True(t, MatesMapped(r))
	assert.True(t, MateOnSameRef(r))

	r.Flags |= sam.Duplicate | sam.ProperPair
	assert.True(t, IsDuplicate(r))
	assert.True(t, IsProperPair(r))

	r.Flags |= sam.MateUnmapped
	assert.False(t, MatesMapped(r))
	assert.False(t, MateOnSameRef(r))
}

func TestMateOnSameRef(t *testing.T) {
	chr2 := mustRef("2", 50000)
	r := newRecord("a", chr1, 100, sam.Paired, chr2, 300, cigarM(50))
	assert.False(t, MateOnSameRef(r))
	r.MateRef = chr1
	assert.True(t, MateOnSameRef(r))
}

func TestStrand(t *testing.T) {
	fwd := newRecord("a", chr1, 100, sam.Paired|sam.Read2|sam.MateReverse, chr1, 300, cigarM(50))
	assert.Equal(t, 1, Strand(fwd))
	assert.Equal(t, -1, MateStrand(fwd))

	rev := newRecord("b", chr1, 100, sam.Paired|sam.Read2|sam.Reverse, chr1, 300, cigarM(50))
	assert.Equal(t, -1, Strand(rev))
	assert.Equal(t, 1, MateStrand(rev))
}

func TestCoordinates(t *testing.T) {
	r := newRecord("a", chr1, 99, sam.Paired, chr1, 299, cigarM(50))
	assert.Equal(t, 100, Start1(r))
	assert.Equal(t, 149, End1(r))
	assert.Equal(t, 300, MateStart1(r))
	assert.Equal(t, 349, MateEnd1(r, 50))
}

func TestMismatchScore(t *testing.T) {
	tests := []struct {
		cigar sam.Cigar
		nm    interface{}
		want  int
	}{
		{cigarM(50), uint8(0), 0},
		{cigarM(50), uint8(3), 3},
		{sam.Cigar{sam.NewCigarOp(sam.CigarSoftClipped, 4), sam.NewCigarOp(sam.CigarMatch, 46)}, uint8(2), 6},
		{sam.Cigar{
			sam.NewCigarOp(sam.CigarSoftClipped, 4),
			sam.NewCigarOp(sam.CigarMatch, 40),
			sam.NewCigarOp(sam.CigarSoftClipped, 6),
		}, int32(1), 11},
	}
	for i, tt := range tests {
		r := newRecord("a", chr1, 100, sam.Paired, chr1, 300, tt.cigar, mustAux("NM", tt.nm))
		assert.Equal(t, tt.want, MismatchScore(r), "case %d", i)
	}
}

func TestMismatchScoreMissingNM(t *testing.T) {
	r := newRecord("a", chr1, 100, sam.Paired, chr1, 300,
		sam.Cigar{sam.NewCigarOp(sam.CigarSoftClipped, 5), sam.NewCigarOp(sam.CigarMatch, 45)})
	assert.Equal(t, 5, MismatchScore(r))
}

func TestAboveMismatchThreshold(t *testing.T) {
	r := newRecord("a", chr1, 100, sam.Paired, chr1, 300, cigarM(50), mustAux("NM", uint8(2)))
	assert.False(t, AboveMismatchThreshold(r, 2))
	assert.True(t, AboveMismatchThreshold(r, 1))
	assert.True(t, AboveMismatchThreshold(r, 0))
}

func TestRefLengths(t *testing.T) {
	chr2 := mustRef("2", 50000)
	header, err := sam.NewHeader(nil, []*sam.Reference{chr1, chr2})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"1": 100000, "2": 50000}, RefLengths(header))
}

func TestSliceIterator(t *testing.T) {
	recs := []*sam.Record{
		newRecord("a", chr1, 10, sam.Paired, chr1, 100, cigarM(50)),
		newRecord("b", chr1, 20, sam.Paired, chr1, 200, cigarM(50)),
	}
	it := NewSliceIterator(recs)
	var names []string
	for it.Scan() {
		names = append(names, it.Record().Name)
	}
	assert.NoError(t, it.Err())
	assert.NoError(t, it.Close())
	assert.Equal(t, []string{"a", "b"}, names)
}
