// pkg/audit/file.go

package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/CodeMonkeyCybersecurity/warden/pkg/governor"
	cerr "github.com/cockroachdb/errors"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// FileSink appends records to a JSONL file and rotates it by size.
type FileSink struct {
	mu         sync.Mutex
	path       string
	maxBytes   int64
	maxBackups int
	f          *os.File
	size       int64
	// closed is set by Close. A nil f without it means a rotation failed
	// part way and the next write reopens path.
	closed bool
}

type fileRecord struct {
	Kind         string                     `json:"kind"`
	Event        *governor.RemediationEvent `json:"event,omitempty"`
	Notification *Notification              `json:"notification,omitempty"`
}

// NewFileSink opens path for appending, creating parent directories.
// maxBytes of zero disables rotation.
func NewFileSink(path string, maxBytes int64, maxBackups int) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, cerr.Wrapf(err, "failed to create audit directory for %s", path)
	}
	s := &FileSink{path: path, maxBytes: maxBytes, maxBackups: maxBackups}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileSink) open() error {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return cerr.Wrapf(err, "failed to open audit log %s", s.path)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return cerr.Wrapf(err, "failed to stat audit log %s", s.path)
	}
	s.f = f
	s.size = info.Size()
	return nil
}

func (s *FileSink) Record(ctx context.Context, ev governor.RemediationEvent) error {
	return s.write(fileRecord{Kind: "remediation", Event: &ev})
}

func (s *FileSink) Notify(ctx context.Context, n Notification) error {
	return s.write(fileRecord{Kind: "notification", Notification: &n})
}

func (s *FileSink) write(rec fileRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return cerr.Wrap(err, "failed to encode audit record")
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}
	n, err := s.f.Write(line)
	s.size += int64(n)
	if err != nil {
		return cerr.Wrapf(err, "failed to write audit log %s", s.path)
	}
	return nil
}

// Rotate moves the current file aside when it has reached maxBytes, keeping
// at most maxBackups older files as path.1 (newest) to path.N.
func (s *FileSink) Rotate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if s.maxBytes <= 0 || s.size < s.maxBytes {
		return nil
	}
	if err := s.f.Close(); err != nil {
		return cerr.Wrapf(err, "failed to close audit log %s", s.path)
	}
	s.f = nil

	if s.maxBackups <= 0 {
		if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
			return cerr.Wrapf(err, "failed to remove audit log %s", s.path)
		}
	} else {
		_ = os.Remove(s.backup(s.maxBackups))
		for i := s.maxBackups - 1; i >= 1; i-- {
			if err := os.Rename(s.backup(i), s.backup(i+1)); err != nil && !os.IsNotExist(err) {
				return cerr.Wrapf(err, "failed to shift audit backup %d", i)
			}
		}
		if err := os.Rename(s.path, s.backup(1)); err != nil {
			return cerr.Wrapf(err, "failed to rotate audit log %s", s.path)
		}
	}

	otelzap.Ctx(ctx).Info("Audit log rotated",
		zap.String("path", s.path),
		zap.Int64("bytes", s.size),
		zap.Int("max_backups", s.maxBackups))
	return s.open()
}

// ensureOpen reopens the file after a failed rotation. Callers hold s.mu.
func (s *FileSink) ensureOpen() error {
	if s.closed {
		return cerr.New("audit log is closed")
	}
	if s.f != nil {
		return nil
	}
	return s.open()
}

func (s *FileSink) backup(i int) string {
	return fmt.Sprintf("%s.%d", s.path, i)
}

// Close closes the file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
