// Package auditfile writes audit entries to a rotating YAML log file so the
// trail survives outside the database.
package auditfile

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"

	"github.com/ericfisherdev/vendorvault/internal/domain/model"
	"github.com/ericfisherdev/vendorvault/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.AuditSink = (*Sink)(nil)

// Options controls rotation of the audit log file.
type Options struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	Compress   bool
}

// Record is the on-disk form of one audit entry.
type Record struct {
	ID       string `yaml:"id"`
	When     string `yaml:"when"`
	Actor    string `yaml:"actor"`
	VendorID string `yaml:"vendor-id"`
	Scope    string `yaml:"scope"`
	Action   string `yaml:"action"`
	Outcome  string `yaml:"outcome"`
	Detail   string `yaml:"detail,omitempty"`
}

// Sink appends one YAML document per audit entry.
type Sink struct {
	mu sync.Mutex
	w  io.WriteCloser
}

// Open creates the log file with owner-only permissions and returns a sink
// that rotates it with lumberjack.
func Open(opts Options) (*Sink, error) {
	path := opts.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create audit log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("prime audit log %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("prime audit log %s: %w", path, err)
	}

	return New(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		Compress:   opts.Compress,
	}), nil
}

// New returns a sink writing to w.
func New(w io.WriteCloser) *Sink {
	return &Sink{w: w}
}

const documentStart = "---\n"

// Append writes entry as a YAML document.
func (s *Sink) Append(_ context.Context, entry model.AuditEntry) error {
	body, err := yaml.Marshal(Record{
		ID:       entry.ID,
		When:     entry.Timestamp.UTC().Format(time.RFC3339Nano),
		Actor:    entry.Actor,
		VendorID: entry.VendorID,
		Scope:    entry.Scope.String(),
		Action:   string(entry.Action),
		Outcome:  string(entry.Outcome),
		Detail:   entry.Detail,
	})
	if err != nil {
		return fmt.Errorf("encode audit entry %s: %w", entry.ID, err)
	}

	// One write per document so rotation never splits the separator from
	// its body.
	doc := make([]byte, 0, len(documentStart)+len(body))
	doc = append(doc, documentStart...)
	doc = append(doc, body...)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(doc); err != nil {
		return fmt.Errorf("write audit entry %s: %w", entry.ID, err)
	}
	return nil
}

// Close closes the underlying file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Close()
}
