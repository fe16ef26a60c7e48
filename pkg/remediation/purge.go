// pkg/remediation/purge.go

package remediation

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	cerr "github.com/cockroachdb/errors"
	"github.com/hashicorp/go-multierror"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// PurgeResult counts what a purge removed.
type PurgeResult struct {
	Entries int
	Bytes   int64
}

// Purger removes worker cache and temp artifacts.
type Purger interface {
	Purge(ctx context.Context) (PurgeResult, error)
}

// CachePurger deletes entries under Roots whose base name matches one of
// Patterns and which were last modified more than MinAge ago. A matching
// directory is removed as a whole.
type CachePurger struct {
	Roots    []string
	Patterns []string
	MinAge   time.Duration
	now      func() time.Time
}

// NewCachePurger returns a CachePurger for the given roots and patterns.
func NewCachePurger(roots, patterns []string, minAge time.Duration) *CachePurger {
	return &CachePurger{Roots: roots, Patterns: patterns, MinAge: minAge, now: time.Now}
}

// Purge walks every root. Missing roots are skipped and per-entry failures
// are collected rather than aborting the walk.
func (p *CachePurger) Purge(ctx context.Context) (PurgeResult, error) {
	logger := otelzap.Ctx(ctx)

	var res PurgeResult
	var errs *multierror.Error
	cutoff := p.now().Add(-p.MinAge)

	for _, root := range p.Roots {
		root = filepath.Clean(root)
		if root == "/" || root == "." {
			errs = multierror.Append(errs, cerr.Newf("refusing to purge cache root %q", root))
			continue
		}
		if _, err := os.Stat(root); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			errs = multierror.Append(errs, cerr.Wrapf(err, "failed to stat cache root %s", root))
			continue
		}

		walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if err != nil {
				if path != root {
					errs = multierror.Append(errs, err)
					return nil
				}
				return err
			}
			if path == root || !p.matches(d.Name()) {
				return nil
			}

			info, err := d.Info()
			if err != nil {
				errs = multierror.Append(errs, err)
				return nil
			}
			if info.ModTime().After(cutoff) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}

			size := info.Size()
			if d.IsDir() {
				size = dirSize(path)
				if err := os.RemoveAll(path); err != nil {
					errs = multierror.Append(errs, cerr.Wrapf(err, "failed to remove %s", path))
				} else {
					res.Entries++
					res.Bytes += size
				}
				return filepath.SkipDir
			}
			if err := os.Remove(path); err != nil {
				errs = multierror.Append(errs, cerr.Wrapf(err, "failed to remove %s", path))
				return nil
			}
			res.Entries++
			res.Bytes += size
			return nil
		})
		if walkErr != nil {
			errs = multierror.Append(errs, cerr.Wrapf(walkErr, "failed to walk %s", root))
		}
	}

	if res.Entries > 0 {
		logger.Info("Purged worker cache artifacts",
			zap.Int("entries", res.Entries),
			zap.Int64("bytes", res.Bytes))
	}
	return res, errs.ErrorOrNil()
}

func (p *CachePurger) matches(name string) bool {
	for _, pattern := range p.Patterns {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

func dirSize(root string) int64 {
	var total int64
	_ = filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}
