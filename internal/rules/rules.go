// Package rules loads named cleanup rules from rules.yaml and keeps them for
// deployments without a database.
package rules

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"mailsweep/internal/model"
	"mailsweep/internal/repository"
)

// Store is what the engine needs from a rule source. Both FileStore and the
// Postgres repository satisfy it.
type Store interface {
	List(ctx context.Context) ([]model.CleanupRule, error)
	Get(ctx context.Context, name string) (*model.CleanupRule, error)
	Upsert(ctx context.Context, rule *model.CleanupRule) error
	Delete(ctx context.Context, name string) error
	MarkRun(ctx context.Context, name string, at time.Time) error
}

var (
	_ Store = (*FileStore)(nil)
	_ Store = (*repository.RuleRepository)(nil)
)

// ErrNotFound is shared with the repository so callers check one value.
var ErrNotFound = repository.ErrRuleNotFound

type file struct {
	Rules []model.CleanupRule `yaml:"rules"`
}

// Parse decodes and validates a rules document. Every problem of every rule is
// reported, prefixed with the rule's position or name.
func Parse(data []byte) ([]model.CleanupRule, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, &model.ConfigError{Field: "rules", Reason: err.Error()}
	}
	var errs model.ConfigErrors
	seen := make(map[string]bool, len(f.Rules))
	for i, r := range f.Rules {
		label := r.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i)
		}
		if seen[r.Name] {
			errs = append(errs, &model.ConfigError{Field: "rules." + label, Reason: "duplicate name"})
		}
		seen[r.Name] = true
		if err := r.Validate(); err != nil {
			var ces model.ConfigErrors
			if errors.As(err, &ces) {
				for _, ce := range ces {
					errs = append(errs, &model.ConfigError{Field: "rules." + label + "." + ce.Field, Reason: ce.Reason})
				}
			}
		}
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}
	return f.Rules, nil
}

// LoadFile reads path. A missing file is an empty rule set.
func LoadFile(path string) ([]model.CleanupRule, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", path, err)
	}
	return Parse(data)
}

// FileStore holds rules in memory. Changes are not written back to disk;
// LastRun only lives as long as the process.
type FileStore struct {
	mu    sync.RWMutex
	rules map[string]model.CleanupRule
}

func NewFileStore(rules []model.CleanupRule) *FileStore {
	s := &FileStore{rules: make(map[string]model.CleanupRule, len(rules))}
	for _, r := range rules {
		s.rules[r.Name] = r
	}
	return s
}

// OpenFileStore loads path into a FileStore.
func OpenFileStore(path string) (*FileStore, error) {
	rules, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return NewFileStore(rules), nil
}

func (s *FileStore) List(_ context.Context) ([]model.CleanupRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.CleanupRule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *FileStore) Get(_ context.Context, name string) (*model.CleanupRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[name]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (s *FileStore) Upsert(_ context.Context, rule *model.CleanupRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.rules[rule.Name]; ok {
		rule.LastRun = prev.LastRun
	}
	s.rules[rule.Name] = *rule
	return nil
}

func (s *FileStore) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[name]; !ok {
		return ErrNotFound
	}
	delete(s.rules, name)
	return nil
}

func (s *FileStore) MarkRun(_ context.Context, name string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[name]
	if !ok {
		return ErrNotFound
	}
	r.LastRun = &at
	s.rules[name] = r
	return nil
}
