package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"blainsmith.com/go/seahash"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// Key identifies one job's output artifact. Input is the BAM path for
// per-(input x chunk) stages and empty for per-chunk stages.
type Key struct {
	Stage string
	Input string
	Chunk int
}

func (k Key) String() string {
	if k.Input == "" {
		return fmt.Sprintf("%s[chunk %d]", k.Stage, k.Chunk)
	}
	return fmt.Sprintf("%s[%s, chunk %d]", k.Stage, filepath.Base(k.Input), k.Chunk)
}

// filename derives a stable artifact name. The seahash fingerprint keeps
// names unique when distinct input paths share a basename.
func (k Key) filename() string {
	id := fmt.Sprintf("%s|%s|%d", k.Stage, k.Input, k.Chunk)
	return fmt.Sprintf("%s-c%03d-%016x.json.gz", k.Stage, k.Chunk, seahash.Sum64([]byte(id)))
}

// Store persists one gzip-compressed JSON artifact per completed job.
// Writes go to a temp file first and are renamed into place, so a final
// artifact is always complete: a job that fails or is cancelled leaves
// nothing behind and reruns from scratch.
type Store struct {
	dir string
}

// NewStore creates dir if needed and returns a store rooted there.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0775); err != nil {
		return nil, errors.Wrapf(err, "creating artifact dir %s", dir)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the artifact root.
func (s *Store) Dir() string { return s.dir }

// Exists reports whether the artifact for k has been written.
func (s *Store) Exists(k Key) bool {
	_, err := os.Stat(filepath.Join(s.dir, k.filename()))
	return err == nil
}

// Put atomically persists v as the artifact for k.
func (s *Store) Put(k Key, v interface{}) (err error) {
	tmp, err := os.CreateTemp(s.dir, k.Stage+"-tmp-*")
	if err != nil {
		return errors.Wrapf(err, "creating temp artifact for %s", k)
	}
	defer func() {
		if err != nil {
			os.Remove(tmp.Name())
		}
	}()
	zw := gzip.NewWriter(tmp)
	enc := json.NewEncoder(zw)
	if err = enc.Encode(v); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "encoding artifact %s", k)
	}
	if err = zw.Close(); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "compressing artifact %s", k)
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrapf(err, "writing artifact %s", k)
	}
	if err = os.Rename(tmp.Name(), filepath.Join(s.dir, k.filename())); err != nil {
		return errors.Wrapf(err, "publishing artifact %s", k)
	}
	return nil
}

// Get loads the artifact for k into v.
func (s *Store) Get(k Key, v interface{}) error {
	f, err := os.Open(filepath.Join(s.dir, k.filename()))
	if err != nil {
		return errors.Wrapf(err, "opening artifact %s", k)
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "decompressing artifact %s", k)
	}
	defer zr.Close()
	if err := json.NewDecoder(zr).Decode(v); err != nil {
		return errors.Wrapf(err, "decoding artifact %s", k)
	}
	return nil
}
