// Package diag records prompts and raw model output for offline debugging of
// recovery failures. Recording is best-effort: a Sink never returns an error.
package diag

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/storytest/logger"
)

// Kind classifies a diagnostic payload
type Kind string

const (
	KindPrompt         Kind = "prompt"
	KindResponse       Kind = "response"        // raw model text
	KindResponseObject Kind = "response_object" // full API response envelope
	KindImportRequest  Kind = "import_request"
	KindImportResponse Kind = "import_response"
)

// extension picks a file suffix per kind
func (k Kind) extension() string {
	switch k {
	case KindResponseObject, KindImportRequest, KindImportResponse:
		return ".json"
	default:
		return ".txt"
	}
}

// Sink receives diagnostic payloads
type Sink interface {
	Record(kind Kind, payload []byte)
}

// Nop discards everything
type Nop struct{}

// Record implements Sink
func (Nop) Record(Kind, []byte) {}

// FileSink writes each payload to <dir>/<kind>_<timestamp>.<ext>
type FileSink struct {
	dir    string
	logger *zap.SugaredLogger
	now    func() time.Time

	mu   sync.Mutex
	last map[string]int // disambiguates same-timestamp names
}

// NewFileSink creates a sink rooted at dir; the directory is created on first write
func NewFileSink(dir string, log *zap.SugaredLogger) *FileSink {
	return &FileSink{
		dir:    dir,
		logger: logger.OrNop(log),
		now:    time.Now,
		last:   map[string]int{},
	}
}

// Dir returns the directory receiving files
func (s *FileSink) Dir() string {
	return s.dir
}

// Record implements Sink. Write failures are logged and dropped.
func (s *FileSink) Record(kind Kind, payload []byte) {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		s.logger.Warnw("Failed to create diagnostics directory", logger.FieldPath, s.dir, logger.FieldError, err.Error())
		return
	}

	path := filepath.Join(s.dir, s.fileName(kind))
	if err := os.WriteFile(path, payload, 0644); err != nil {
		s.logger.Warnw("Failed to write diagnostics", logger.FieldFile, path, logger.FieldError, err.Error())
		return
	}
	s.logger.Debugw("Diagnostics recorded", "kind", string(kind), logger.FieldFile, path, logger.FieldSize, len(payload))
}

func (s *FileSink) fileName(kind Kind) string {
	stamp := s.now().Format("20060102_150405")
	base := fmt.Sprintf("%s_%s", kind, stamp)

	s.mu.Lock()
	n := s.last[base]
	s.last[base] = n + 1
	s.mu.Unlock()

	if n > 0 {
		base = fmt.Sprintf("%s_%d", base, n)
	}
	return base + kind.extension()
}

// Entry is one payload held by a Memory sink
type Entry struct {
	Kind    Kind
	Payload []byte
}

// Memory keeps payloads in order; used by tests and dry runs
type Memory struct {
	mu      sync.Mutex
	entries []Entry
}

// Record implements Sink
func (m *Memory) Record(kind Kind, payload []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, Entry{Kind: kind, Payload: append([]byte(nil), payload...)})
}

// Entries returns a copy of everything recorded
func (m *Memory) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.entries...)
}

// OfKind returns payloads of one kind in recording order
func (m *Memory) OfKind(kind Kind) [][]byte {
	var out [][]byte
	for _, e := range m.Entries() {
		if e.Kind == kind {
			out = append(out, e.Payload)
		}
	}
	return out
}
