package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terminusbio/terminus/ensembl"
)

func touch(t *testing.T, dir, name string) string {
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, nil, 0644))
	return path
}

// validConfig builds a configuration whose referenced files all exist.
func validConfig(t *testing.T, dir string) *Config {
	fa := touch(t, dir, "ref.fa")
	touch(t, dir, "ref.fa.fai")
	bam1 := touch(t, dir, "1.bam")
	touch(t, dir, "1.bam.bai")
	bam2 := touch(t, dir, "2.bam")
	touch(t, dir, "2.bam.bai")

	cfg := Default
	cfg.Name = "test-run"
	cfg.RefFasta = fa
	cfg.HmmBinary = "hmm"
	cfg.Samples = []Sample{
		{Name: "wt_1", BamFile: bam1, Tag: "NNNNBGAGGC", Condition: "wt", Groups: []string{"g1"}},
		{Name: "mut_1", BamFile: bam2, Tag: "NNNNBAGAAG", Condition: "mut", Groups: []string{"g2"}},
	}
	return &cfg
}

func TestValidateOK(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	assert.NoError(t, validConfig(t, dir).Validate())
}

func TestValidateRejects(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty name", func(c *Config) { c.Name = "" }},
		{"blank name", func(c *Config) { c.Name = "   " }},
		{"overlong name", func(c *Config) {
			for len(c.Name) <= maxNameLen {
				c.Name += "x"
			}
		}},
		{"zero chunk total", func(c *Config) { c.ChunkTotal = 0 }},
		{"negative chunk total", func(c *Config) { c.ChunkTotal = -4 }},
		{"negative mismatch threshold", func(c *Config) { c.MismatchThreshold = -1 }},
		{"zero bin size", func(c *Config) { c.BinSize = 0 }},
		{"zero buffer width", func(c *Config) { c.PeakBufferWidth = 0 }},
		{"zero read2 length", func(c *Config) { c.Read2Length = 0 }},
		{"unreadable fasta", func(c *Config) { c.RefFasta = filepath.Join(dir, "nope.fa") }},
		{"no sequence source", func(c *Config) { c.RefFasta = "" }},
		{"bad ensembl port", func(c *Config) {
			c.RefFasta = ""
			c.Ensembl = &ensembl.Config{Host: "h", Port: 99999, User: "u", Database: "d"}
		}},
		{"no samples", func(c *Config) { c.Samples = nil }},
		{"blank sample name", func(c *Config) { c.Samples[0].Name = " " }},
		{"duplicate sample name", func(c *Config) { c.Samples[1].Name = c.Samples[0].Name }},
		{"duplicate input and barcode", func(c *Config) {
			c.Samples[1].BamFile = c.Samples[0].BamFile
			c.Samples[1].Tag = c.Samples[0].Tag
		}},
		{"invalid barcode", func(c *Config) { c.Samples[0].Tag = "NNQQ" }},
		{"group cardinality differs", func(c *Config) { c.Samples[1].Groups = []string{"g2", "g3"} }},
		{"group label shared", func(c *Config) { c.Samples[1].Groups = []string{"g1"} }},
		{"missing bam", func(c *Config) { c.Samples[0].BamFile = filepath.Join(dir, "nope.bam") }},
	}
	for _, tt := range tests {
		cfg := validConfig(t, dir)
		tt.mutate(cfg)
		err := cfg.Validate()
		require.Error(t, err, tt.name)
		_, ok := err.(*InvalidError)
		assert.True(t, ok, tt.name)
	}
}

func TestValidateMissingIndexFatal(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	cfg := validConfig(t, dir)
	require.NoError(t, os.Remove(cfg.Samples[1].BamFile+".bai"))
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "index")
}

func TestValidateSameFileTwoBarcodesOK(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	cfg := validConfig(t, dir)
	cfg.Samples[1].BamFile = cfg.Samples[0].BamFile
	assert.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	path := filepath.Join(dir, "conf.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: exp-12
chunk_total: 4
ref_fasta: /data/ref.fa
mismatch_threshold: 0
bin_size: 100
peak_buffer_width: 100
hmm_sig_level: 0.001
read2_length: 51
hmm_binary: /usr/local/bin/segment
test_chunk: 2
skip_sequences: [MT, Y]
samples:
  - name: wt_1
    bam_file: /data/1.bam
    tag: NNNNBGAGGC
    condition: wt
    groups: [a]
  - name: mut_1
    bam_file: /data/2.bam
    tag: NNNNBAGAAG
    condition: mut
    groups: [b]
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "exp-12", cfg.Name)
	assert.Equal(t, 4, cfg.ChunkTotal)
	assert.Equal(t, 51, cfg.Read2Length)
	assert.Equal(t, 2, cfg.TestChunk)
	assert.Equal(t, map[string]bool{"MT": true, "Y": true}, cfg.SkipSet())
	require.Len(t, cfg.Samples, 2)
	assert.Equal(t, "NNNNBGAGGC", cfg.Samples[0].Tag)
	// Defaults survive for unset keys.
	assert.Equal(t, Default.WorkDir, cfg.WorkDir)
}

func TestLoadUnknownKey(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	path := filepath.Join(dir, "conf.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: x\nchunk_totale: 3\n"), 0644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestHelpers(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	cfg := validConfig(t, dir)
	cfg.Samples[1].BamFile = cfg.Samples[0].BamFile

	assert.Equal(t, []string{cfg.Samples[0].BamFile}, cfg.BamFiles())
	assert.Equal(t, []string{"NNNNBGAGGC", "NNNNBAGAAG"}, cfg.TagsFor(cfg.Samples[0].BamFile))
	assert.Equal(t, []string{"NNNNBGAGGC", "NNNNBAGAAG"}, cfg.AllTags())
}
