package pipeline

import (
	"testing"

	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terminusbio/terminus/region"
)

func TestKeyFilenameStable(t *testing.T) {
	a := Key{Stage: "bins", Input: "/data/x.bam", Chunk: 3}
	b := Key{Stage: "bins", Input: "/data/x.bam", Chunk: 3}
	assert.Equal(t, a.filename(), b.filename())

	// Distinct inputs with the same basename stay distinct.
	c := Key{Stage: "bins", Input: "/other/x.bam", Chunk: 3}
	assert.NotEqual(t, a.filename(), c.filename())
	d := Key{Stage: "peaks", Input: "/data/x.bam", Chunk: 3}
	assert.NotEqual(t, a.filename(), d.filename())
}

func TestStoreRoundTrip(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	store, err := NewStore(tempDir)
	require.NoError(t, err)

	k := Key{Stage: "regions", Chunk: 0}
	assert.False(t, store.Exists(k))

	in := map[string][]region.Region{
		"1": {{Chrom: "1", Start: 100, End: 200, MaxReadCount: 5, LogProbSum: -2.5, Strand: 1}},
	}
	require.NoError(t, store.Put(k, in))
	assert.True(t, store.Exists(k))

	var out map[string][]region.Region
	require.NoError(t, store.Get(k, &out))
	assert.Equal(t, in, out)
}

func TestStoreGetMissing(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	store, err := NewStore(tempDir)
	require.NoError(t, err)
	var out map[string]int
	assert.Error(t, store.Get(Key{Stage: "bins", Chunk: 9}, &out))
}

func TestStoreOverwrite(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	store, err := NewStore(tempDir)
	require.NoError(t, err)

	k := Key{Stage: "tags", Input: "a.bam", Chunk: 1}
	require.NoError(t, store.Put(k, map[string]int{"AA": 1}))
	require.NoError(t, store.Put(k, map[string]int{"AA": 2}))
	var out map[string]int
	require.NoError(t, store.Get(k, &out))
	assert.Equal(t, map[string]int{"AA": 2}, out)
}
