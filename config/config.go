// Package config loads and validates the YAML run configuration: global
// pipeline parameters plus the sample table binding input BAM files,
// molecular barcodes, conditions, and group labels.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/terminusbio/terminus/barcode"
	"github.com/terminusbio/terminus/ensembl"
)

const maxNameLen = 128

// Sample binds one input BAM and one molecular barcode to a named sample.
type Sample struct {
	Name      string   `yaml:"name"`
	BamFile   string   `yaml:"bam_file"`
	Tag       string   `yaml:"tag"`
	Condition string   `yaml:"condition"`
	Groups    []string `yaml:"groups"`
}

// Config is the full run configuration.
type Config struct {
	Name              string          `yaml:"name"`
	ChunkTotal        int             `yaml:"chunk_total"`
	RefFasta          string          `yaml:"ref_fasta"`
	MismatchThreshold int             `yaml:"mismatch_threshold"`
	BinSize           int             `yaml:"bin_size"`
	PeakBufferWidth   int             `yaml:"peak_buffer_width"`
	HmmSigLevel       float64         `yaml:"hmm_sig_level"`
	Read2Length       int             `yaml:"read2_length"`
	HmmBinary         string          `yaml:"hmm_binary"`
	Ensembl           *ensembl.Config `yaml:"ensembl"`
	TestChunk         int             `yaml:"test_chunk"`
	SkipSequences     []string        `yaml:"skip_sequences"`
	WorkDir           string          `yaml:"work_dir"`
	Samples           []Sample        `yaml:"samples"`
}

// Default holds the values a configuration file starts from.
var Default = Config{
	ChunkTotal:        16,
	MismatchThreshold: 2,
	BinSize:           100,
	PeakBufferWidth:   100,
	HmmSigLevel:       0.001,
	Read2Length:       50,
	WorkDir:           "terminus-work",
}

// InvalidError reports a rejected configuration value.
type InvalidError struct {
	Field  string
	Reason string
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Load reads and parses a YAML configuration file. Unknown keys are
// rejected so typos do not silently fall back to defaults. Load does not
// validate; call Validate before running.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	cfg := Default
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks every configuration invariant that can be checked
// without scanning read data. Presence of each sample's barcode in its BAM
// is confirmed later by the tag-count stage.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return &InvalidError{Field: "name", Reason: "must not be empty or blank"}
	}
	if len(c.Name) > maxNameLen {
		return &InvalidError{Field: "name", Reason: fmt.Sprintf("longer than %d characters", maxNameLen)}
	}
	if c.ChunkTotal <= 0 {
		return &InvalidError{Field: "chunk_total", Reason: "must be positive"}
	}
	if c.MismatchThreshold < 0 {
		return &InvalidError{Field: "mismatch_threshold", Reason: "must not be negative"}
	}
	if c.BinSize <= 0 {
		return &InvalidError{Field: "bin_size", Reason: "must be positive"}
	}
	if c.PeakBufferWidth <= 0 {
		return &InvalidError{Field: "peak_buffer_width", Reason: "must be positive"}
	}
	if c.Read2Length <= 0 {
		return &InvalidError{Field: "read2_length", Reason: "must be positive"}
	}
	if c.RefFasta == "" && c.Ensembl == nil {
		return &InvalidError{Field: "ref_fasta", Reason: "either ref_fasta or ensembl must be configured"}
	}
	if c.RefFasta != "" {
		if err := readable(c.RefFasta); err != nil {
			return &InvalidError{Field: "ref_fasta", Reason: err.Error()}
		}
		if err := readable(c.RefFasta + ".fai"); err != nil {
			return &InvalidError{Field: "ref_fasta", Reason: err.Error()}
		}
	}
	if c.Ensembl != nil {
		if c.Ensembl.Port < 1 || c.Ensembl.Port > 65535 {
			return &InvalidError{Field: "ensembl.port", Reason: fmt.Sprintf("invalid port %d", c.Ensembl.Port)}
		}
	}
	return c.validateSamples()
}

func (c *Config) validateSamples() error {
	if len(c.Samples) == 0 {
		return &InvalidError{Field: "samples", Reason: "at least one sample is required"}
	}
	names := make(map[string]bool)
	keys := make(map[string]bool)
	labels := make(map[string]string)
	groupCardinality := -1
	for _, s := range c.Samples {
		if strings.TrimSpace(s.Name) == "" {
			return &InvalidError{Field: "samples", Reason: "sample name must not be empty"}
		}
		if names[s.Name] {
			return &InvalidError{Field: "samples", Reason: fmt.Sprintf("duplicate sample name %s", s.Name)}
		}
		names[s.Name] = true
		key := s.BamFile + "\x00" + s.Tag
		if keys[key] {
			return &InvalidError{Field: "samples",
				Reason: fmt.Sprintf("duplicate input/barcode pair %s/%s", s.BamFile, s.Tag)}
		}
		keys[key] = true
		if _, err := barcode.NewSet([]string{s.Tag}); err != nil {
			return &InvalidError{Field: "samples", Reason: fmt.Sprintf("sample %s: %v", s.Name, err)}
		}
		if groupCardinality == -1 {
			groupCardinality = len(s.Groups)
		} else if len(s.Groups) != groupCardinality {
			return &InvalidError{Field: "samples",
				Reason: fmt.Sprintf("sample %s has %d group labels, others have %d", s.Name, len(s.Groups), groupCardinality)}
		}
		for _, g := range s.Groups {
			if owner, ok := labels[g]; ok && owner != s.Name {
				return &InvalidError{Field: "samples",
					Reason: fmt.Sprintf("group label %s used by both %s and %s", g, owner, s.Name)}
			}
			labels[g] = s.Name
		}
		if err := readable(s.BamFile); err != nil {
			return &InvalidError{Field: "samples", Reason: fmt.Sprintf("sample %s: %v", s.Name, err)}
		}
		if err := readable(s.BamFile + ".bai"); err != nil {
			return &InvalidError{Field: "samples",
				Reason: fmt.Sprintf("sample %s: missing BAM index: %v", s.Name, err)}
		}
	}
	return nil
}

func readable(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	return f.Close()
}

// BamFiles returns the distinct input BAM paths in first-appearance order.
func (c *Config) BamFiles() []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range c.Samples {
		if !seen[s.BamFile] {
			seen[s.BamFile] = true
			out = append(out, s.BamFile)
		}
	}
	return out
}

// TagsFor returns the barcodes of the samples reading from bam, in sample
// order.
func (c *Config) TagsFor(bam string) []string {
	var out []string
	for _, s := range c.Samples {
		if s.BamFile == bam {
			out = append(out, s.Tag)
		}
	}
	return out
}

// AllTags returns every configured barcode in sample order.
func (c *Config) AllTags() []string {
	out := make([]string, len(c.Samples))
	for i, s := range c.Samples {
		out[i] = s.Tag
	}
	return out
}

// SkipSet returns the skip list as a set.
func (c *Config) SkipSet() map[string]bool {
	out := make(map[string]bool, len(c.SkipSequences))
	for _, name := range c.SkipSequences {
		out[name] = true
	}
	return out
}
