package barcode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile(t *testing.T) {
	tests := []struct {
		seq          string
		randomPrefix int
	}{
		{"NNNNBGAGGC", 5},
		{"NNNNBAGAAG", 5},
		{"ACGT", 0},
		{"NNNN", 4},
		{"RYKM", 4},
		{"NNACGTNN", 2},
	}
	for _, tt := range tests {
		set, err := NewSet([]string{tt.seq})
		require.NoError(t, err, tt.seq)
		bc, ok := set.Match("read1#" + expand(tt.seq))
		require.True(t, ok, tt.seq)
		assert.Equal(t, tt.seq, bc.Seq)
		assert.Equal(t, tt.randomPrefix, bc.RandomPrefix, tt.seq)
	}
}

// expand replaces every ambiguity letter with one base it covers.
func expand(seq string) string {
	out := make([]byte, len(seq))
	for i := 0; i < len(seq); i++ {
		switch seq[i] {
		case 'A', 'C', 'G', 'T':
			out[i] = seq[i]
		case 'R', 'D', 'V':
			out[i] = 'A'
		case 'Y', 'B', 'H':
			out[i] = 'C'
		case 'K', 'S':
			out[i] = 'G'
		case 'M', 'W', 'N':
			out[i] = 'A'
		default:
			out[i] = 'A'
		}
	}
	return string(out)
}

func TestCompileInvalid(t *testing.T) {
	_, err := NewSet([]string{"ACGZ"})
	assert.Error(t, err)
	_, err = NewSet([]string{""})
	assert.Error(t, err)
}

func TestMatch(t *testing.T) {
	set, err := NewSet([]string{"NNNNBGAGGC", "NNNNBAGAAG"})
	require.NoError(t, err)

	tests := []struct {
		name string
		want string
		ok   bool
	}{
		{"HWI-1:2:3#ACGTTGAGGC", "NNNNBGAGGC", true},
		{"HWI-1:2:3#ACGTTAGAAG", "NNNNBAGAAG", true},
		{"HWI-1:2:3#ACGTAGAGGC", "NNNNBGAGGC", false}, // A at the B position
		{"HWI-1:2:3#ACGTTTTTTT", "", false},
		{"HWI-1:2:3", "", false},
		{"noletters#1234", "", false},
	}
	for _, tt := range tests {
		bc, ok := set.Match(tt.name)
		if !tt.ok {
			assert.False(t, ok, tt.name)
			continue
		}
		require.True(t, ok, tt.name)
		assert.Equal(t, tt.want, bc.Seq, tt.name)
	}
}

func TestMatchFirstWins(t *testing.T) {
	// Both barcodes match this suffix; declaration order decides.
	set, err := NewSet([]string{"NNNN", "NNAA"})
	require.NoError(t, err)
	bc, ok := set.Match("r#GGAA")
	require.True(t, ok)
	assert.Equal(t, "NNNN", bc.Seq)

	set, err = NewSet([]string{"NNAA", "NNNN"})
	require.NoError(t, err)
	bc, ok = set.Match("r#GGAA")
	require.True(t, ok)
	assert.Equal(t, "NNAA", bc.Seq)
}

func TestMatchLongerName(t *testing.T) {
	// The suffix run may be longer than the barcode; only the tail is
	// tested.
	set, err := NewSet([]string{"GAGGC"})
	require.NoError(t, err)
	_, ok := set.Match("r#AAAAAGAGGC")
	assert.True(t, ok)
}
