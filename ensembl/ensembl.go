// Package ensembl retrieves genomic subsequences from an Ensembl core
// database. It backs sequence queries when no local FASTA is configured.
// Unlike the FASTA source, queries past a sequence's end return N-padded
// strings, matching what the Ensembl API itself does.
package ensembl

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"

	"github.com/terminusbio/terminus/fasta"
)

// Config carries the connection parameters from the ensembl_* options.
type Config struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// Source is a fasta.Source backed by the seq_region and dna tables of an
// Ensembl core schema.
type Source struct {
	db *sql.DB

	mu   sync.Mutex
	lens map[string]int
}

var _ fasta.Source = (*Source)(nil)

// Connect opens a connection pool against the configured database.
func Connect(cfg Config) (*Source, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s", cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to ensembl at %s:%d", cfg.Host, cfg.Port)
	}
	return &Source{db: db, lens: make(map[string]int)}, nil
}

// Close releases the connection pool.
func (s *Source) Close() error { return s.db.Close() }

// Len returns the length of the named sequence region.
func (s *Source) Len(name string) (int, error) {
	s.mu.Lock()
	if n, ok := s.lens[name]; ok {
		s.mu.Unlock()
		return n, nil
	}
	s.mu.Unlock()
	var n int
	err := s.db.QueryRow(
		`SELECT length FROM seq_region WHERE name = ? ORDER BY seq_region_id LIMIT 1`,
		name).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, errors.Errorf("sequence region not found: %s", name)
	}
	if err != nil {
		return 0, errors.Wrapf(err, "looking up length of %s", name)
	}
	s.mu.Lock()
	s.lens[name] = n
	s.mu.Unlock()
	return n, nil
}

// fetch returns the 1-based inclusive range [start, end], which must lie
// inside the sequence.
func (s *Source) fetch(ctx context.Context, name string, start, end int) (string, error) {
	var seq string
	err := s.db.QueryRowContext(ctx,
		`SELECT SUBSTRING(d.sequence, ?, ?)
		 FROM dna d JOIN seq_region sr ON d.seq_region_id = sr.seq_region_id
		 WHERE sr.name = ? ORDER BY sr.seq_region_id LIMIT 1`,
		start, end-start+1, name).Scan(&seq)
	if err == sql.ErrNoRows {
		return "", errors.Errorf("sequence region not found: %s", name)
	}
	if err != nil {
		return "", errors.Wrapf(err, "fetching %s:%d-%d", name, start, end)
	}
	return strings.ToUpper(seq), nil
}

// Get implements fasta.Source. Queries starting before base 1 are clipped;
// queries running past the sequence end are padded with N so the result
// still spans the requested interval.
func (s *Source) Get(ctx context.Context, name string, start, end, strand int) (string, error) {
	if strand != 1 && strand != -1 {
		return "", fmt.Errorf("strand must be +1 or -1, got %d", strand)
	}
	n, err := s.Len(name)
	if err != nil {
		return "", err
	}
	if start < 1 {
		start = 1
	}
	if start > end {
		return "", nil
	}
	pad := 0
	fetchEnd := end
	if fetchEnd > n {
		pad = fetchEnd - n
		fetchEnd = n
	}
	var seq string
	if start <= fetchEnd {
		if seq, err = s.fetch(ctx, name, start, fetchEnd); err != nil {
			return "", err
		}
	} else {
		pad = end - start + 1
	}
	if pad > 0 {
		seq += strings.Repeat("N", pad)
	}
	if strand == -1 {
		seq = fasta.ReverseComplement(seq)
	}
	return seq, nil
}

// Upstream implements fasta.Source.
func (s *Source) Upstream(ctx context.Context, name string, pos, strand, length int) (string, error) {
	if strand == -1 {
		return s.Get(ctx, name, pos+1, pos+length, strand)
	}
	return s.Get(ctx, name, pos-length, pos-1, strand)
}

// Downstream implements fasta.Source.
func (s *Source) Downstream(ctx context.Context, name string, pos, strand, length int) (string, error) {
	if strand == -1 {
		return s.Get(ctx, name, pos-length, pos-1, strand)
	}
	return s.Get(ctx, name, pos+1, pos+length, strand)
}
