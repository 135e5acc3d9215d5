// Package fasta retrieves genomic subsequences from (optionally indexed)
// FASTA files and answers the strand-aware, clipped queries the 3'-end
// filter needs. See http://www.htslib.org/doc/faidx.html for the index
// format.
package fasta

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Source answers subsequence queries. Coordinates are 1-based inclusive.
// Get clips out-of-range queries to the sequence bounds; a query entirely
// outside the sequence yields "". When strand is -1 the returned string is
// the reverse complement of the fetched bases.
type Source interface {
	Get(ctx context.Context, name string, start, end, strand int) (string, error)
	Upstream(ctx context.Context, name string, pos, strand, length int) (string, error)
	Downstream(ctx context.Context, name string, pos, strand, length int) (string, error)
	Len(name string) (int, error)
}

// Index files consist of one tab-separated line per sequence:
// "<name>\t<length>\t<byte offset>\t<bases per line>\t<bytes per line>".
var indexRegExp = regexp.MustCompile(`(\S+)\t(\d+)\t(\d+)\t(\d+)\t(\d+)`)

type indexEntry struct {
	length    int
	offset    int64
	lineBase  int
	lineWidth int
}

// Fasta is a Source backed by an indexed FASTA file on disk. Lookups seek
// directly to the requested bases; the file is never loaded whole.
type Fasta struct {
	seqs   map[string]indexEntry
	reader io.ReadSeeker
	closer io.Closer
	mutex  sync.Mutex
}

var _ Source = (*Fasta)(nil)

// Open opens fastaPath and its sibling index fastaPath + ".fai".
func Open(fastaPath string) (*Fasta, error) {
	f, err := os.Open(fastaPath)
	if err != nil {
		return nil, errors.Wrapf(err, "opening FASTA %s", fastaPath)
	}
	idx, err := os.Open(fastaPath + ".fai")
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "opening FASTA index %s.fai", fastaPath)
	}
	defer idx.Close()
	fa, err := NewIndexed(f, idx)
	if err != nil {
		f.Close()
		return nil, err
	}
	fa.closer = f
	return fa, nil
}

// NewIndexed creates a Fasta from a seekable FASTA stream and its index.
func NewIndexed(fasta io.ReadSeeker, index io.Reader) (*Fasta, error) {
	f := &Fasta{seqs: make(map[string]indexEntry), reader: fasta}
	scanner := bufio.NewScanner(index)
	for scanner.Scan() {
		fields := indexRegExp.FindStringSubmatch(scanner.Text())
		if fields == nil {
			return nil, errors.Errorf("invalid index line: %s", scanner.Text())
		}
		entry := indexEntry{}
		entry.length, _ = strconv.Atoi(fields[2])
		offset, _ := strconv.ParseInt(fields[3], 10, 64)
		entry.offset = offset
		entry.lineBase, _ = strconv.Atoi(fields[4])
		entry.lineWidth, _ = strconv.Atoi(fields[5])
		f.seqs[fields[1]] = entry
	}
	if scanner.Err() != nil {
		return nil, errors.Wrap(scanner.Err(), "reading FASTA index")
	}
	return f, nil
}

// Close closes the underlying file, if Open created one.
func (f *Fasta) Close() error {
	if f.closer != nil {
		return f.closer.Close()
	}
	return nil
}

// Len returns the length of the named sequence.
func (f *Fasta) Len(name string) (int, error) {
	entry, ok := f.seqs[name]
	if !ok {
		return 0, errors.Errorf("sequence not found in index: %s", name)
	}
	return entry.length, nil
}

// raw fetches the 0-based half-open range [start, end) without clipping.
func (f *Fasta) raw(name string, start, end int) (string, error) {
	entry, ok := f.seqs[name]
	if !ok {
		return "", errors.Errorf("sequence not found in index: %s", name)
	}
	if start < 0 || end > entry.length || start >= end {
		return "", errors.Errorf("invalid range %d-%d for sequence %s of length %d", start, end, name, entry.length)
	}
	// Byte offsets of the first and last requested base, accounting for the
	// line terminators recorded in the index.
	begin := entry.offset + int64(start/entry.lineBase*entry.lineWidth+start%entry.lineBase)
	last := end - 1
	finish := entry.offset + int64(last/entry.lineBase*entry.lineWidth+last%entry.lineBase) + 1

	f.mutex.Lock()
	defer f.mutex.Unlock()
	if _, err := f.reader.Seek(begin, io.SeekStart); err != nil {
		return "", errors.Wrapf(err, "seeking to %d in FASTA", begin)
	}
	buf := make([]byte, finish-begin)
	if _, err := io.ReadFull(f.reader, buf); err != nil {
		return "", errors.Wrapf(err, "reading %s:%d-%d", name, start, end)
	}
	var seq strings.Builder
	seq.Grow(end - start)
	for _, c := range buf {
		if c != '\n' && c != '\r' {
			seq.WriteByte(c)
		}
	}
	return seq.String(), nil
}

// Get implements Source.
func (f *Fasta) Get(ctx context.Context, name string, start, end, strand int) (string, error) {
	return getClipped(ctx, f, name, start, end, strand)
}

// Upstream implements Source.
func (f *Fasta) Upstream(ctx context.Context, name string, pos, strand, length int) (string, error) {
	return upstream(ctx, f, name, pos, strand, length)
}

// Downstream implements Source.
func (f *Fasta) Downstream(ctx context.Context, name string, pos, strand, length int) (string, error) {
	return downstream(ctx, f, name, pos, strand, length)
}

// rawSource is the minimal unclipped fetch the strand-aware helpers build
// on. Mem and Fasta both provide it.
type rawSource interface {
	raw(name string, start, end int) (string, error)
	Len(name string) (int, error)
}

func getClipped(ctx context.Context, src rawSource, name string, start, end, strand int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strand != 1 && strand != -1 {
		return "", fmt.Errorf("strand must be +1 or -1, got %d", strand)
	}
	n, err := src.Len(name)
	if err != nil {
		return "", err
	}
	if start < 1 {
		start = 1
	}
	if end > n {
		end = n
	}
	if start > end {
		return "", nil
	}
	seq, err := src.raw(name, start-1, end)
	if err != nil {
		return "", err
	}
	seq = strings.ToUpper(seq)
	if strand == -1 {
		seq = ReverseComplement(seq)
	}
	return seq, nil
}

func upstream(ctx context.Context, src rawSource, name string, pos, strand, length int) (string, error) {
	if strand == -1 {
		return getClipped(ctx, src, name, pos+1, pos+length, strand)
	}
	return getClipped(ctx, src, name, pos-length, pos-1, strand)
}

func downstream(ctx context.Context, src rawSource, name string, pos, strand, length int) (string, error) {
	if strand == -1 {
		return getClipped(ctx, src, name, pos-length, pos-1, strand)
	}
	return getClipped(ctx, src, name, pos+1, pos+length, strand)
}

var complement = [256]byte{}

func init() {
	for i := range complement {
		complement[i] = 'N'
	}
	complement['A'] = 'T'
	complement['C'] = 'G'
	complement['G'] = 'C'
	complement['T'] = 'A'
	complement['N'] = 'N'
	complement['a'] = 't'
	complement['c'] = 'g'
	complement['g'] = 'c'
	complement['t'] = 'a'
	complement['n'] = 'n'
}

// ReverseComplement returns the reverse complement of seq. Characters
// outside the ACGTN alphabet complement to N.
func ReverseComplement(seq string) string {
	out := make([]byte, len(seq))
	for i := 0; i < len(seq); i++ {
		out[len(seq)-1-i] = complement[seq[i]]
	}
	return string(out)
}
