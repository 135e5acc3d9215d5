// Package chunk groups the reference sequences of a genome assembly into
// chunks of approximately equal total length. Chunks are the unit of
// parallelism for the whole pipeline, so the grouping must be stable:
// deriving chunks twice from the same inputs yields byte-identical results.
package chunk

import (
	"sort"

	"github.com/grailbio/hts/sam"
	"github.com/pkg/errors"
)

// Ref describes one reference sequence of the assembly.
type Ref struct {
	Name    string `json:"name"`
	Length  int    `json:"length"`
	Ordinal int    `json:"ordinal"`
}

// Chunk is an ordered list of references processed together. Index is the
// 0-based position of the chunk in the run.
type Chunk struct {
	Index int   `json:"index"`
	Refs  []Ref `json:"refs"`
}

// TotalBP sums the reference lengths of c.
func (c *Chunk) TotalBP() int {
	total := 0
	for _, r := range c.Refs {
		total += r.Length
	}
	return total
}

// Names returns the reference names of c in order.
func (c *Chunk) Names() []string {
	names := make([]string, len(c.Refs))
	for i, r := range c.Refs {
		names[i] = r.Name
	}
	return names
}

// FromHeader extracts the reference descriptors from a BAM header,
// preserving header order as the ordinal.
func FromHeader(h *sam.Header) []Ref {
	refs := make([]Ref, 0, len(h.Refs()))
	for i, r := range h.Refs() {
		refs = append(refs, Ref{Name: r.Name(), Length: r.Len(), Ordinal: i})
	}
	return refs
}

// Partition groups refs into at most chunkTotal chunks whose total lengths
// approximate totalBP/chunkTotal. References named in skip are excluded
// first. The packing is greedy over references sorted by descending length
// (ordinal breaks ties), each placed into the currently lightest chunk
// (lowest index breaks ties); within a chunk, references stay in ordinal
// order. Empty chunks are dropped.
func Partition(refs []Ref, skip map[string]bool, chunkTotal int) ([]Chunk, error) {
	if chunkTotal <= 0 {
		return nil, errors.Errorf("chunk total must be positive, got %d", chunkTotal)
	}
	included := make([]Ref, 0, len(refs))
	for _, r := range refs {
		if !skip[r.Name] {
			included = append(included, r)
		}
	}
	sort.SliceStable(included, func(i, j int) bool {
		if included[i].Length != included[j].Length {
			return included[i].Length > included[j].Length
		}
		return included[i].Ordinal < included[j].Ordinal
	})

	bins := make([]Chunk, chunkTotal)
	weights := make([]int, chunkTotal)
	for _, r := range included {
		lightest := 0
		for i := 1; i < chunkTotal; i++ {
			if weights[i] < weights[lightest] {
				lightest = i
			}
		}
		bins[lightest].Refs = append(bins[lightest].Refs, r)
		weights[lightest] += r.Length
	}

	out := make([]Chunk, 0, chunkTotal)
	for _, b := range bins {
		if len(b.Refs) == 0 {
			continue
		}
		sort.Slice(b.Refs, func(i, j int) bool { return b.Refs[i].Ordinal < b.Refs[j].Ordinal })
		b.Index = len(out)
		out = append(out, b)
	}
	return out, nil
}

// Select restricts chunks to the single 1-based testChunk ordinal. A zero
// selector returns all chunks unchanged.
func Select(chunks []Chunk, testChunk int) ([]Chunk, error) {
	if testChunk == 0 {
		return chunks, nil
	}
	if testChunk < 1 || testChunk > len(chunks) {
		return nil, errors.Errorf("test chunk %d out of range 1-%d", testChunk, len(chunks))
	}
	return []Chunk{chunks[testChunk-1]}, nil
}
