// Package barcode compiles molecular barcodes drawn from the IUPAC alphabet
// into regular-expression sets and matches them against the base suffixes
// that sequencers append to read names.
package barcode

import (
	"fmt"
	"regexp"
	"strings"
)

// iupacClass maps each IUPAC letter to the regexp character class of the
// bases it stands for. N is a full wildcard over the sequenced alphabet.
var iupacClass = map[byte]string{
	'A': "A",
	'C': "C",
	'G': "G",
	'T': "T",
	'R': "[AG]",
	'Y': "[CT]",
	'K': "[GT]",
	'M': "[AC]",
	'S': "[CG]",
	'W': "[AT]",
	'B': "[CGT]",
	'D': "[AGT]",
	'H': "[ACT]",
	'V': "[ACG]",
	'N': "[ACGT]",
}

// suffixRE captures the terminal run of called bases in a read name. Read
// names carry the molecular tag after a '#', e.g. "read1#ACGTTGAGGC".
var suffixRE = regexp.MustCompile(`([ACGT]+)$`)

// Barcode is one compiled molecular tag.
type Barcode struct {
	// Seq is the barcode as configured, e.g. "NNNNBGAGGC".
	Seq string
	// RandomPrefix is the number of ambiguity letters before the first
	// fixed base. Those positions hold the random molecular portion of the
	// tag.
	RandomPrefix int

	patterns []*regexp.Regexp
}

// Set holds compiled barcodes in declaration order. Matching tests barcodes
// in that order and the first hit wins, so the order is part of the
// contract.
type Set struct {
	barcodes []*Barcode
}

// NewSet compiles the given barcodes. All barcodes must be non-empty
// strings over the IUPAC alphabet; they need not share a length.
func NewSet(seqs []string) (*Set, error) {
	s := &Set{}
	for _, seq := range seqs {
		bc, err := compile(seq)
		if err != nil {
			return nil, err
		}
		s.barcodes = append(s.barcodes, bc)
	}
	return s, nil
}

func compile(seq string) (*Barcode, error) {
	if seq == "" {
		return nil, fmt.Errorf("empty barcode")
	}
	seq = strings.ToUpper(seq)
	var expanded strings.Builder
	randomPrefix := 0
	sawFixed := false
	for i := 0; i < len(seq); i++ {
		class, ok := iupacClass[seq[i]]
		if !ok {
			return nil, fmt.Errorf("barcode %s: invalid IUPAC letter %q", seq, seq[i])
		}
		if len(class) == 1 {
			sawFixed = true
		} else if !sawFixed {
			randomPrefix++
		}
		expanded.WriteString(class)
	}
	// The suffix pattern anchors at the end of the called-base run; a
	// stricter whole-suffix pattern goes first so ties resolve to the
	// exact-length match.
	exact, err := regexp.Compile("^" + expanded.String() + "$")
	if err != nil {
		return nil, fmt.Errorf("barcode %s: %v", seq, err)
	}
	tail, err := regexp.Compile(expanded.String() + "$")
	if err != nil {
		return nil, fmt.Errorf("barcode %s: %v", seq, err)
	}
	return &Barcode{
		Seq:          seq,
		RandomPrefix: randomPrefix,
		patterns:     []*regexp.Regexp{exact, tail},
	}, nil
}

// Patterns returns the compiled regexps for b in matching order.
func (b *Barcode) Patterns() []*regexp.Regexp {
	return b.patterns
}

// Seqs returns the barcode strings in declaration order.
func (s *Set) Seqs() []string {
	out := make([]string, len(s.barcodes))
	for i, b := range s.barcodes {
		out[i] = b.Seq
	}
	return out
}

// Match extracts the terminal called-base run of readName and tests each
// barcode's patterns against it in declaration order. It returns the first
// matching barcode, whose RandomPrefix field holds its random-prefix length,
// and whether any barcode matched.
func (s *Set) Match(readName string) (*Barcode, bool) {
	m := suffixRE.FindString(readName)
	if m == "" {
		return nil, false
	}
	for _, b := range s.barcodes {
		if len(m) < len(b.Seq) {
			continue
		}
		tail := m[len(m)-len(b.Seq):]
		for _, p := range b.patterns {
			if p.MatchString(tail) {
				return b, true
			}
		}
	}
	return nil, false
}
