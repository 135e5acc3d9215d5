package fasta

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// Mem is a Source holding all sequences in memory. It exists for small
// references and tests; production runs use the indexed Fasta.
type Mem struct {
	seqs     map[string]string
	seqNames []string
}

var _ Source = (*Mem)(nil)

// New reads all FASTA data from r into memory.
func New(r io.Reader) (*Mem, error) {
	f := &Mem{seqs: make(map[string]string)}
	scanner := bufio.NewScanner(r)
	var seqName string
	var seq strings.Builder
	flush := func() error {
		if seq.Len() == 0 {
			return nil
		}
		if seqName == "" {
			return errors.New("malformed FASTA data")
		}
		f.seqs[seqName] = seq.String()
		f.seqNames = append(f.seqNames, seqName)
		seq.Reset()
		return nil
	}
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) == 0 {
			continue
		}
		if line[0] == '>' {
			if err := flush(); err != nil {
				return nil, err
			}
			seqName = strings.Split(line[1:], " ")[0]
		} else {
			seq.WriteString(line)
		}
	}
	if scanner.Err() != nil {
		return nil, errors.Wrap(scanner.Err(), "reading FASTA data")
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return f, nil
}

// SeqNames returns the sequence names in order of appearance.
func (f *Mem) SeqNames() []string { return f.seqNames }

// Len returns the length of the named sequence.
func (f *Mem) Len(name string) (int, error) {
	s, ok := f.seqs[name]
	if !ok {
		return 0, errors.Errorf("sequence not found: %s", name)
	}
	return len(s), nil
}

func (f *Mem) raw(name string, start, end int) (string, error) {
	s, ok := f.seqs[name]
	if !ok {
		return "", errors.Errorf("sequence not found: %s", name)
	}
	if start < 0 || end > len(s) || start >= end {
		return "", errors.Errorf("invalid range %d-%d for sequence %s of length %d", start, end, name, len(s))
	}
	return s[start:end], nil
}

// Get implements Source.
func (f *Mem) Get(ctx context.Context, name string, start, end, strand int) (string, error) {
	return getClipped(ctx, f, name, start, end, strand)
}

// Upstream implements Source.
func (f *Mem) Upstream(ctx context.Context, name string, pos, strand, length int) (string, error) {
	return upstream(ctx, f, name, pos, strand, length)
}

// Downstream implements Source.
func (f *Mem) Downstream(ctx context.Context, name string, pos, strand, length int) (string, error) {
	return downstream(ctx, f, name, pos, strand, length)
}
