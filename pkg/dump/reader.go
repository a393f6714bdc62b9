package dump

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/willibrandon/coroscope/pkg/coroutine"
)

// maxLine bounds a single record; deep stacks make long lines.
const maxLine = 16 << 20

// ErrNoHeader is returned for input that does not start with a dump header.
var ErrNoHeader = errors.New("dump: missing header")

// Dump is the decoded content of a dump file.
type Dump struct {
	Header      Header
	Tasks       []Task
	Stacks      []Stack
	Diagnostics []coroutine.Diagnostic
}

// Open reads the dump at path.
func Open(path string) (*Dump, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening dump %s: %w", path, err)
	}
	defer f.Close()
	d, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading dump %s: %w", path, err)
	}
	return d, nil
}

// Read decodes a dump, compressed or not. Records of unknown kinds are
// skipped so newer dumps stay readable.
func Read(r io.Reader) (*Dump, error) {
	dr, done, err := newDecompressedReader(r)
	if err != nil {
		return nil, err
	}
	defer done()

	scanner := bufio.NewScanner(dr)
	scanner.Buffer(make([]byte, 0, 64<<10), maxLine)
	var d *Dump
	line := 0
	for scanner.Scan() {
		line++
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if d == nil {
			if rec.Kind != KindHeader || rec.Header == nil {
				return nil, ErrNoHeader
			}
			if rec.Header.Version > FormatVersion {
				return nil, fmt.Errorf("dump version %d is newer than %d", rec.Header.Version, FormatVersion)
			}
			d = &Dump{Header: *rec.Header}
			continue
		}
		switch {
		case rec.Kind == KindTask && rec.Task != nil:
			d.Tasks = append(d.Tasks, *rec.Task)
		case rec.Kind == KindStack && rec.Stack != nil:
			d.Stacks = append(d.Stacks, *rec.Stack)
		case rec.Kind == KindDiagnostic && rec.Diagnostic != nil:
			d.Diagnostics = append(d.Diagnostics, *rec.Diagnostic)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if d == nil {
		return nil, ErrNoHeader
	}
	return d, nil
}
