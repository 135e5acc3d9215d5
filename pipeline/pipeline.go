// Package pipeline materializes the stage DAG of the 3'-end counting
// engine: per-(input x chunk) traversal stages fanning out with traverse,
// per-chunk merge stages fanning in, every job persisting exactly one
// artifact so a rerun resumes from whatever completed.
package pipeline

import (
	"context"
	"sort"
	"strings"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/pkg/errors"

	"github.com/terminusbio/terminus/bamio"
	"github.com/terminusbio/terminus/barcode"
	"github.com/terminusbio/terminus/chunk"
	"github.com/terminusbio/terminus/config"
	"github.com/terminusbio/terminus/ensembl"
	"github.com/terminusbio/terminus/fasta"
	"github.com/terminusbio/terminus/hmm"
	"github.com/terminusbio/terminus/region"
)

// Stage names, in dependency order.
const (
	stageTags         = "tags"
	stageBins         = "bins"
	stagePeaks        = "peaks"
	stageRegions      = "regions"
	stageEnds         = "ends"
	stageMergedEnds   = "merged-ends"
	stageFilteredEnds = "filtered-ends"
	stageChosenEnds   = "chosen-ends"
	stageTallies      = "tallies"
	stageCounts       = "counts"
)

// Pipeline wires configuration, the artifact store, the segmenter, and the
// sequence source into a runnable DAG.
type Pipeline struct {
	cfg    *config.Config
	store  *Store
	seg    hmm.Segmenter
	seq    fasta.Source
	chunks []chunk.Chunk
	inputs []string
	// tags holds the compiled barcode set of each input file.
	tags map[string]*barcode.Set
	// refLens maps reference name to length, taken from the input headers.
	refLens map[string]int
}

// Option overrides a pipeline collaborator.
type Option func(*Pipeline)

// WithSegmenter substitutes the HMM segmenter, letting tests run without
// the external binary.
func WithSegmenter(seg hmm.Segmenter) Option {
	return func(p *Pipeline) { p.seg = seg }
}

// WithSequenceSource substitutes the genomic sequence source.
func WithSequenceSource(src fasta.Source) Option {
	return func(p *Pipeline) { p.seq = src }
}

// New validates the input files against each other, derives the chunk set,
// and prepares a runnable pipeline. The configuration must already have
// passed Validate.
func New(cfg *config.Config, opts ...Option) (*Pipeline, error) {
	store, err := NewStore(cfg.WorkDir)
	if err != nil {
		return nil, err
	}
	p := &Pipeline{
		cfg:    cfg,
		store:  store,
		inputs: cfg.BamFiles(),
		tags:   make(map[string]*barcode.Set),
	}
	for _, o := range opts {
		o(p)
	}
	if p.seg == nil {
		p.seg = &hmm.Subprocess{Binary: cfg.HmmBinary}
	}
	if p.seq == nil {
		if cfg.RefFasta != "" {
			fa, err := fasta.Open(cfg.RefFasta)
			if err != nil {
				return nil, err
			}
			p.seq = fa
		} else {
			src, err := ensembl.Connect(*cfg.Ensembl)
			if err != nil {
				return nil, err
			}
			p.seq = src
		}
	}
	for _, input := range p.inputs {
		set, err := barcode.NewSet(cfg.TagsFor(input))
		if err != nil {
			return nil, err
		}
		p.tags[input] = set
	}
	if err := p.deriveChunks(); err != nil {
		return nil, err
	}
	return p, nil
}

// deriveChunks reads every input header, requires them to agree on the
// reference set, and partitions the references into chunks.
func (p *Pipeline) deriveChunks() error {
	var refs []chunk.Ref
	for i, input := range p.inputs {
		r, err := bamio.Open(input, "")
		if err != nil {
			return err
		}
		inRefs := chunk.FromHeader(r.Header())
		if err := r.Close(); err != nil {
			return err
		}
		if i == 0 {
			refs = inRefs
			continue
		}
		if len(inRefs) != len(refs) {
			return errors.Errorf("input %s has %d references, %s has %d",
				input, len(inRefs), p.inputs[0], len(refs))
		}
		for j := range refs {
			if inRefs[j] != refs[j] {
				return errors.Errorf("input %s reference %d is %s:%d, %s has %s:%d",
					input, j, inRefs[j].Name, inRefs[j].Length, p.inputs[0], refs[j].Name, refs[j].Length)
			}
		}
	}
	p.refLens = make(map[string]int, len(refs))
	for _, r := range refs {
		p.refLens[r.Name] = r.Length
	}
	chunks, err := chunk.Partition(refs, p.cfg.SkipSet(), p.cfg.ChunkTotal)
	if err != nil {
		return err
	}
	if p.chunks, err = chunk.Select(chunks, p.cfg.TestChunk); err != nil {
		return err
	}
	total := 0
	for _, c := range p.chunks {
		total += c.TotalBP()
	}
	log.Printf("derived %d chunks covering %d bp from %d references", len(p.chunks), total, len(refs))
	return nil
}

// Chunks returns the chunk set the pipeline will process.
func (p *Pipeline) Chunks() []chunk.Chunk { return p.chunks }

// eachInputChunk fans a per-(input x chunk) stage out over all jobs,
// skipping jobs whose artifact already exists.
func (p *Pipeline) eachInputChunk(ctx context.Context, stage string,
	run func(ctx context.Context, input string, ch chunk.Chunk, k Key) error) error {
	type job struct {
		input string
		ch    chunk.Chunk
	}
	var jobs []job
	for _, input := range p.inputs {
		for _, ch := range p.chunks {
			jobs = append(jobs, job{input, ch})
		}
	}
	return traverse.Each(len(jobs), func(i int) error {
		j := jobs[i]
		k := Key{Stage: stage, Input: j.input, Chunk: j.ch.Index}
		if p.store.Exists(k) {
			log.Debug.Printf("%s: artifact present, skipping", k)
			return nil
		}
		log.Printf("running %s", k)
		return run(ctx, j.input, j.ch, k)
	})
}

// eachChunk fans a per-chunk stage out over all chunks.
func (p *Pipeline) eachChunk(ctx context.Context, stage string,
	run func(ctx context.Context, ch chunk.Chunk, k Key) error) error {
	return traverse.Each(len(p.chunks), func(i int) error {
		ch := p.chunks[i]
		k := Key{Stage: stage, Chunk: ch.Index}
		if p.store.Exists(k) {
			log.Debug.Printf("%s: artifact present, skipping", k)
			return nil
		}
		log.Printf("running %s", k)
		return run(ctx, ch, k)
	})
}

// Run executes every stage in dependency order and returns the final
// per-region table rows ordered by (chromosome, region start).
func (p *Pipeline) Run(ctx context.Context) ([]region.Region, error) {
	if err := p.eachInputChunk(ctx, stageTags, p.runTags); err != nil {
		return nil, err
	}
	if err := p.checkTagPresence(); err != nil {
		return nil, err
	}
	if err := p.eachInputChunk(ctx, stageBins, p.runBins); err != nil {
		return nil, err
	}
	if err := p.eachInputChunk(ctx, stagePeaks, p.runPeaks); err != nil {
		return nil, err
	}
	if err := p.eachChunk(ctx, stageRegions, p.runRegions); err != nil {
		return nil, err
	}
	if err := p.eachInputChunk(ctx, stageEnds, p.runEnds); err != nil {
		return nil, err
	}
	if err := p.eachChunk(ctx, stageMergedEnds, p.runMergedEnds); err != nil {
		return nil, err
	}
	if err := p.eachChunk(ctx, stageFilteredEnds, p.runFilteredEnds); err != nil {
		return nil, err
	}
	if err := p.eachChunk(ctx, stageChosenEnds, p.runChosenEnds); err != nil {
		return nil, err
	}
	if err := p.eachInputChunk(ctx, stageTallies, p.runTallies); err != nil {
		return nil, err
	}
	if err := p.eachChunk(ctx, stageCounts, p.runCounts); err != nil {
		return nil, err
	}
	return p.collect()
}

// checkTagPresence sums the tag-count artifacts per input and rejects
// barcodes that never occur in their input's read population. The check
// needs the full chunk set, so a test-chunk run only warns.
func (p *Pipeline) checkTagPresence() error {
	totals := make(map[string]map[string]int, len(p.inputs))
	for _, input := range p.inputs {
		totals[input] = make(map[string]int)
		for _, ch := range p.chunks {
			var seen map[string]int
			k := Key{Stage: stageTags, Input: input, Chunk: ch.Index}
			if err := p.store.Get(k, &seen); err != nil {
				return err
			}
			for tag, n := range seen {
				totals[input][tag] += n
			}
		}
	}
	for _, s := range p.cfg.Samples {
		n := totals[s.BamFile][strings.ToUpper(s.Tag)]
		if n > 0 {
			continue
		}
		if p.cfg.TestChunk != 0 {
			log.Error.Printf("sample %s: barcode %s not seen in %s (test chunk only, continuing)",
				s.Name, s.Tag, s.BamFile)
			continue
		}
		return &config.InvalidError{
			Field:  "samples",
			Reason: "sample " + s.Name + ": barcode " + s.Tag + " does not occur in " + s.BamFile,
		}
	}
	return nil
}

// collect loads the final count artifacts and flattens them into the
// output row order.
func (p *Pipeline) collect() ([]region.Region, error) {
	var out []region.Region
	for _, ch := range p.chunks {
		var regions map[string][]region.Region
		if err := p.store.Get(Key{Stage: stageCounts, Chunk: ch.Index}, &regions); err != nil {
			return nil, err
		}
		for _, rs := range regions {
			out = append(out, rs...)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Chrom != out[j].Chrom {
			return out[i].Chrom < out[j].Chrom
		}
		return out[i].Start < out[j].Start
	})
	return out, nil
}
