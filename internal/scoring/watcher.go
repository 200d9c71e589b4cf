package scoring

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Provider hands out the current Scorer and swaps it when the patterns file changes.
// A run should take one Scorer at its start and use it throughout.
type Provider struct {
	path    string
	clf     Classifier
	logger  *zap.Logger
	current atomic.Pointer[Scorer]
}

// NewProvider loads path once. A malformed file is a ConfigError here; later
// reloads that fail keep the previous lists.
func NewProvider(path string, clf Classifier, logger *zap.Logger) (*Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	lists, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	p := &Provider{path: path, clf: clf, logger: logger}
	p.current.Store(New(lists, clf))
	return p, nil
}

// StaticProvider always returns s.
func StaticProvider(s *Scorer) *Provider {
	p := &Provider{logger: zap.NewNop()}
	p.current.Store(s)
	return p
}

func (p *Provider) Current() *Scorer { return p.current.Load() }

// Reload re-reads the patterns file.
func (p *Provider) Reload() error {
	if _, err := os.Stat(p.path); os.IsNotExist(err) {
		// mid-replace by an editor; the following create event reloads
		return nil
	}
	lists, err := LoadFile(p.path)
	if err != nil {
		p.logger.Error("Patterns reload failed, keeping previous lists",
			zap.String("path", p.path),
			zap.Error(err),
		)
		return err
	}
	prev := p.current.Swap(New(lists, p.clf))
	p.logger.Info("Patterns reloaded",
		zap.String("path", p.path),
		zap.String("old_fingerprint", prev.Fingerprint()),
		zap.String("new_fingerprint", lists.Fingerprint()),
	)
	return nil
}

// Watch reloads on every write, create or rename of the patterns file until ctx
// is done. The directory is watched so editors that replace the file are seen.
func (p *Provider) Watch(ctx context.Context) error {
	if p.path == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	dir := filepath.Dir(p.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	target := filepath.Clean(p.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				_ = p.Reload()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			p.logger.Warn("Patterns watcher error", zap.Error(err))
		}
	}
}
