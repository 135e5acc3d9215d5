// Package bamio opens coordinate-sorted, indexed BAM files and exposes
// streaming range queries plus the alignment-level filter predicates used
// throughout the pipeline.
package bamio

import (
	"context"
	"os"

	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/bgzf/index"
	"github.com/grailbio/hts/sam"
	"github.com/pkg/errors"
)

// Iterator yields records in ascending coordinate order. Scan advances to
// the next record and reports whether one is available; Record returns it.
// Err returns the first error encountered, with io.EOF translated to nil.
type Iterator interface {
	Scan() bool
	Record() *sam.Record
	Err() error
	Close() error
}

// Reader provides indexed range queries over one BAM file. Jobs open their
// own Reader; a Reader must not be shared between concurrently running
// jobs, and at most one iterator may be live at a time because iterators
// share the underlying bgzf stream.
type Reader struct {
	path string
	f    *os.File
	br   *bam.Reader
	idx  *bam.Index
}

// Open opens path and its index. An empty indexPath defaults to
// path + ".bai".
func Open(path, indexPath string) (*Reader, error) {
	if indexPath == "" {
		indexPath = path + ".bai"
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening BAM %s", path)
	}
	br, err := bam.NewReader(f, 1)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "reading BAM header of %s", path)
	}
	idxf, err := os.Open(indexPath)
	if err != nil {
		br.Close()
		f.Close()
		return nil, errors.Wrapf(err, "opening BAM index %s", indexPath)
	}
	defer idxf.Close()
	idx, err := bam.ReadIndex(idxf)
	if err != nil {
		br.Close()
		f.Close()
		return nil, errors.Wrapf(err, "reading BAM index %s", indexPath)
	}
	return &Reader{path: path, f: f, br: br, idx: idx}, nil
}

// Path returns the path the reader was opened with.
func (r *Reader) Path() string { return r.path }

// Header returns the BAM header.
func (r *Reader) Header() *sam.Header { return r.br.Header() }

// Ref looks up a reference by name, or nil if the header does not carry it.
func (r *Reader) Ref(name string) *sam.Reference {
	for _, ref := range r.br.Header().Refs() {
		if ref.Name() == name {
			return ref
		}
	}
	return nil
}

// Close releases the underlying file handles.
func (r *Reader) Close() error {
	err := r.br.Close()
	if e := r.f.Close(); e != nil && err == nil {
		err = e
	}
	return err
}

// RefLengths returns the reference-name to length mapping declared in the
// header.
func RefLengths(h *sam.Header) map[string]int {
	out := make(map[string]int, len(h.Refs()))
	for _, ref := range h.Refs() {
		out[ref.Name()] = ref.Len()
	}
	return out
}

// Query returns an iterator over the records overlapping the 1-based
// inclusive interval [start, end] on the named reference. A reference with
// no indexed reads yields an empty iterator, not an error.
func (r *Reader) Query(ctx context.Context, refName string, start, end int) (Iterator, error) {
	ref := r.Ref(refName)
	if ref == nil {
		return &emptyIterator{}, nil
	}
	beg, limit := start-1, end // 0-based half-open window
	if beg < 0 {
		beg = 0
	}
	if limit > ref.Len() {
		limit = ref.Len()
	}
	if beg >= limit {
		return &emptyIterator{}, nil
	}
	chunks, err := r.idx.Chunks(ref, beg, limit)
	if err == index.ErrInvalid || len(chunks) == 0 {
		// No reads on this reference.
		return &emptyIterator{}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "querying index of %s for %s:%d-%d", r.path, refName, start, end)
	}
	it, err := bam.NewIterator(r.br, chunks)
	if err != nil {
		return nil, errors.Wrapf(err, "seeking %s to %s:%d-%d", r.path, refName, start, end)
	}
	return &queryIterator{ctx: ctx, it: it, beg: beg, limit: limit}, nil
}

type queryIterator struct {
	ctx        context.Context
	it         *bam.Iterator
	beg, limit int
	rec        *sam.Record
	err        error
}

func (i *queryIterator) Scan() bool {
	if i.err != nil {
		return false
	}
	// Cancellation is cooperative: checked between records, so a cancelled
	// job stops after the record in flight.
	if i.err = i.ctx.Err(); i.err != nil {
		return false
	}
	for i.it.Next() {
		rec := i.it.Record()
		if rec.Pos >= i.limit {
			// Input is coordinate sorted, nothing further can overlap.
			return false
		}
		if rec.End() <= i.beg {
			continue
		}
		i.rec = rec
		return true
	}
	i.err = i.it.Error()
	return false
}

func (i *queryIterator) Record() *sam.Record { return i.rec }

func (i *queryIterator) Err() error { return i.err }

func (i *queryIterator) Close() error {
	if err := i.it.Close(); err != nil && i.err == nil {
		i.err = err
	}
	return i.Err()
}

type emptyIterator struct{}

func (*emptyIterator) Scan() bool          { return false }
func (*emptyIterator) Record() *sam.Record { return nil }
func (*emptyIterator) Err() error          { return nil }
func (*emptyIterator) Close() error        { return nil }

// SliceIterator adapts an in-memory record slice to the Iterator interface.
// Tests use it in place of a file-backed query.
type SliceIterator struct {
	recs []*sam.Record
	pos  int
}

// NewSliceIterator returns an iterator over recs, which must already be in
// coordinate order.
func NewSliceIterator(recs []*sam.Record) *SliceIterator {
	return &SliceIterator{recs: recs}
}

func (s *SliceIterator) Scan() bool {
	if s.pos >= len(s.recs) {
		return false
	}
	s.pos++
	return true
}

func (s *SliceIterator) Record() *sam.Record { return s.recs[s.pos-1] }

func (s *SliceIterator) Err() error { return nil }

func (s *SliceIterator) Close() error { return nil }
