// Package downsample reduces a BAM file to a target number of read pairs
// while preserving mate-pair integrity: both mates of a pair share one
// keep-or-drop decision, made when the first mate is seen.
package downsample

import (
	"context"
	"io"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
	"github.com/pkg/errors"
)

// PairMode selects which read pairs are eligible for retention.
type PairMode int

const (
	// Paired keeps any flagged pair.
	Paired PairMode = iota
	// MappedPaired keeps pairs with both mates mapped.
	MappedPaired
	// ProperlyPaired keeps pairs the aligner marked proper.
	ProperlyPaired
)

// Opts parameterizes one downsampling run.
type Opts struct {
	// TargetPairs is the number of pairs to retain.
	TargetPairs int
	// SourcePairs is the number of eligible pairs in the source, used to
	// derive the per-pair keep probability.
	SourcePairs int
	// Mode selects pair eligibility.
	Mode PairMode
	// Seed fixes the random stream so a rerun reproduces its output.
	Seed int64
}

func eligible(rec *sam.Record, mode PairMode) bool {
	if rec.Flags&sam.Paired == 0 {
		return false
	}
	switch mode {
	case MappedPaired:
		return rec.Flags&(sam.Unmapped|sam.MateUnmapped) == 0
	case ProperlyPaired:
		return rec.Flags&sam.ProperPair != 0
	default:
		return true
	}
}

// Run streams srcPath once and writes the retained records to dstPath,
// keeping the source header. Each eligible pair is decided on first sight
// with probability TargetPairs/SourcePairs; the decision is remembered
// until the mate appears and evicted immediately after, bounding memory by
// the number of pairs in flight. Once the target is reached no further
// pairs are started. The output is written to a temp file and renamed into
// place only on success.
func Run(ctx context.Context, srcPath, dstPath string, opts Opts) (kept int, err error) {
	if opts.TargetPairs <= 0 || opts.SourcePairs <= 0 {
		return 0, errors.Errorf("target (%d) and source (%d) pair counts must be positive",
			opts.TargetPairs, opts.SourcePairs)
	}
	rate := float64(opts.TargetPairs) / float64(opts.SourcePairs)
	random := rand.New(rand.NewSource(opts.Seed))

	src, err := os.Open(srcPath)
	if err != nil {
		return 0, errors.Wrapf(err, "opening %s", srcPath)
	}
	defer src.Close()
	br, err := bam.NewReader(src, 1)
	if err != nil {
		return 0, errors.Wrapf(err, "reading BAM header of %s", srcPath)
	}
	defer br.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dstPath), filepath.Base(dstPath)+"-tmp-*")
	if err != nil {
		return 0, errors.Wrap(err, "creating temp output")
	}
	defer func() {
		if err != nil {
			os.Remove(tmp.Name())
		}
	}()
	bw, err := bam.NewWriter(tmp, br.Header(), 1)
	if err != nil {
		tmp.Close()
		return 0, errors.Wrap(err, "creating BAM writer")
	}

	// pending maps an undecided-mate pair name to its fate.
	pending := make(map[string]bool)
	for {
		if err = ctx.Err(); err != nil {
			tmp.Close()
			return 0, err
		}
		var rec *sam.Record
		rec, err = br.Read()
		if err == io.EOF {
			err = nil
			break
		}
		if err != nil {
			tmp.Close()
			return 0, errors.Wrapf(err, "reading %s", srcPath)
		}
		if rec.Flags&(sam.Secondary|sam.Supplementary) != 0 {
			continue
		}
		if !eligible(rec, opts.Mode) {
			continue
		}
		keep, seen := pending[rec.Name]
		if seen {
			delete(pending, rec.Name)
		} else {
			keep = kept < opts.TargetPairs && random.Float64() < rate
			pending[rec.Name] = keep
			if keep {
				kept++
			}
		}
		if keep {
			if err = bw.Write(rec); err != nil {
				tmp.Close()
				return 0, errors.Wrap(err, "writing output record")
			}
		}
		if kept >= opts.TargetPairs && len(pending) == 0 {
			break
		}
	}
	if len(pending) > 0 {
		log.Debug.Printf("downsample: %d pairs never saw their mate", len(pending))
	}
	if err = bw.Close(); err != nil {
		tmp.Close()
		return 0, errors.Wrap(err, "flushing output")
	}
	if err = tmp.Close(); err != nil {
		return 0, errors.Wrap(err, "closing output")
	}
	if err = os.Rename(tmp.Name(), dstPath); err != nil {
		return 0, errors.Wrapf(err, "publishing %s", dstPath)
	}
	return kept, nil
}
