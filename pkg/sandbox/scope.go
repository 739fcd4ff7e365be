package sandbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/vincentmin/table-agent/pkg/table"
)

// Scope is a private temporary directory holding one execution's inputs and outputs.
type Scope struct {
	Dir string
}

// NewScope creates a temporary directory and writes the script and the
// serialized table into it.
func NewScope(script string, tbl *table.Table) (*Scope, error) {
	dir, err := os.MkdirTemp("", "table-agent-")
	if err != nil {
		return nil, fmt.Errorf("creating scope: %w", err)
	}
	s := &Scope{Dir: dir}

	if err := os.WriteFile(s.Path(ScriptFile), []byte(script), 0o644); err != nil {
		s.Close()
		return nil, fmt.Errorf("writing script: %w", err)
	}

	f, err := os.Create(s.Path(TableFile))
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("creating table file: %w", err)
	}
	if err := tbl.WriteParquet(f); err != nil {
		f.Close()
		s.Close()
		return nil, fmt.Errorf("writing table: %w", err)
	}
	if err := f.Close(); err != nil {
		s.Close()
		return nil, fmt.Errorf("closing table file: %w", err)
	}
	return s, nil
}

// Path joins name onto the scope directory.
func (s *Scope) Path(name string) string {
	return filepath.Join(s.Dir, name)
}

// MaxArtifactBytes caps how much of OutputFile is read.
const MaxArtifactBytes = 64 << 20

// ReadArtifact loads OutputFile from the scope. A missing file is not an
// error. Numbers decode as json.Number so integers keep their exact value.
func (s *Scope) ReadArtifact() (present bool, value any, parseErr error, err error) {
	f, err := os.Open(s.Path(OutputFile))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil, nil, nil
	}
	if err != nil {
		return false, nil, nil, fmt.Errorf("reading %s: %w", OutputFile, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxArtifactBytes+1))
	if err != nil {
		return false, nil, nil, fmt.Errorf("reading %s: %w", OutputFile, err)
	}
	if len(data) > MaxArtifactBytes {
		return true, nil, fmt.Errorf("%s is larger than %d bytes", OutputFile, MaxArtifactBytes), nil
	}
	value, parseErr = decodeArtifact(data)
	return true, value, parseErr, nil
}

func decodeArtifact(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("unexpected data after top-level value")
	}
	return value, nil
}

// Close removes the scope directory and everything in it.
func (s *Scope) Close() error {
	if err := os.RemoveAll(s.Dir); err != nil {
		slog.Warn("Failed to remove sandbox scope", "dir", s.Dir, "error", err)
		return err
	}
	return nil
}
