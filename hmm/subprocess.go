package hmm

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Subprocess runs the external segmentation binary. The wire format is
// deliberately simple and deterministic: the summary goes on the command
// line, one "bin<TAB>count" line per populated bin goes to stdin, and the
// binary answers with one "bin<TAB>state<TAB>logprob" line per input bin
// on stdout. A non-zero exit is fatal.
type Subprocess struct {
	Binary string
}

var _ Segmenter = (*Subprocess)(nil)

// Segment implements Segmenter.
func (s *Subprocess) Segment(ctx context.Context, bins []BinCount, sum Summary) ([]BinState, error) {
	args := []string{
		"-total-bp", strconv.Itoa(sum.TotalBP),
		"-read-length", strconv.Itoa(sum.ReadLength),
		"-sig-level", strconv.FormatFloat(sum.SigLevel, 'g', -1, 64),
		"-bin-size", strconv.Itoa(sum.BinSize),
	}
	var stdin bytes.Buffer
	for _, b := range bins {
		fmt.Fprintf(&stdin, "%d\t%d\n", b.Bin, b.Count)
	}
	cmd := exec.CommandContext(ctx, s.Binary, args...)
	cmd.Stdin = &stdin
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, errors.Wrapf(err, "hmm binary %s failed: %s", s.Binary, strings.TrimSpace(stderr.String()))
	}
	states, err := parseStates(&stdout)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing output of %s", s.Binary)
	}
	if len(states) != len(bins) {
		return nil, errors.Errorf("hmm binary %s returned %d states for %d bins", s.Binary, len(states), len(bins))
	}
	for i := range states {
		if states[i].Bin != bins[i].Bin {
			return nil, errors.Errorf("hmm binary %s returned state for bin %d where bin %d was expected",
				s.Binary, states[i].Bin, bins[i].Bin)
		}
	}
	return states, nil
}

func parseStates(r *bytes.Buffer) ([]BinState, error) {
	var out []BinState
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 3 {
			return nil, errors.Errorf("malformed state line: %q", line)
		}
		bin, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, errors.Wrapf(err, "bin in %q", line)
		}
		state, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, errors.Wrapf(err, "state in %q", line)
		}
		logProb, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return nil, errors.Wrapf(err, "log prob in %q", line)
		}
		out = append(out, BinState{Bin: bin, State: state, LogProb: logProb})
	}
	return out, scanner.Err()
}

// Stub is an in-memory Segmenter for tests. When Canned is set it is
// returned verbatim; otherwise every bin with a count of at least MinCount
// gets state 1 with LogProb per-bin.
type Stub struct {
	Canned   []BinState
	MinCount int
	LogProb  float64
}

var _ Segmenter = (*Stub)(nil)

// Segment implements Segmenter.
func (s *Stub) Segment(ctx context.Context, bins []BinCount, sum Summary) ([]BinState, error) {
	if s.Canned != nil {
		return s.Canned, nil
	}
	out := make([]BinState, len(bins))
	for i, b := range bins {
		state := 0
		if b.Count >= s.MinCount {
			state = 1
		}
		out[i] = BinState{Bin: b.Bin, State: state, LogProb: s.LogProb}
	}
	return out, nil
}
