package git

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"mercator-hq/bastion/pkg/config"
	"mercator-hq/bastion/pkg/policy/source"
)

// Source serves the bundle files of a Git repository.
type Source struct {
	repo     *Repository
	files    *source.FileSource
	dir      string
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	cloned bool
}

// NewSource creates a Git source. The repository is cloned on the first
// successful Load.
func NewSource(cfg *config.GitSourceConfig, logger *slog.Logger) (*Source, error) {
	repo, err := NewRepository(cfg)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "source.git", "repository", cfg.Repository, "branch", cfg.Branch)
	return &Source{
		repo:     repo,
		files:    source.NewFileSource(repo.PolicyPath(), 0, logger),
		dir:      strings.Trim(path.Clean("/"+filepath.ToSlash(cfg.Path)), "/"),
		interval: cfg.PollInterval,
		logger:   logger,
	}, nil
}

// Name returns "git".
func (s *Source) Name() string { return "git" }

// Load reads the bundle from the checkout. After the first clone the
// remote is pulled; a failed pull is logged and the local checkout served.
func (s *Source) Load(ctx context.Context) (*source.Bundle, error) {
	first, err := s.ensureCloned(ctx)
	if err != nil {
		return nil, err
	}
	if !first {
		if _, err := s.repo.Pull(ctx); err != nil {
			s.logger.Warn("pull failed, serving local checkout", "error", err)
		}
	}
	b, err := s.files.Load(ctx)
	if err != nil {
		return nil, err
	}
	if head, err := s.repo.Head(); err == nil {
		s.logger.Info("policy bundle loaded from git", "commit", short(head.SHA), "policies", len(b.Policies))
	}
	return b, nil
}

// Watch polls the remote every PollInterval and calls onChange after a
// pull that touched bundle files under the configured path.
func (s *Source) Watch(ctx context.Context, onChange func()) error {
	if s.interval <= 0 {
		return fmt.Errorf("git watch needs a positive poll interval")
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if s.poll(ctx) {
				onChange()
			}
		}
	}
}

func (s *Source) ensureCloned(ctx context.Context) (first bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cloned {
		return false, nil
	}
	if err := s.repo.Clone(ctx); err != nil {
		return false, err
	}
	s.cloned = true
	return true, nil
}

func (s *Source) poll(ctx context.Context) bool {
	s.mu.Lock()
	cloned := s.cloned
	s.mu.Unlock()
	if !cloned {
		return false
	}
	result, err := s.repo.Pull(ctx)
	if err != nil {
		s.logger.Error("error checking for changes", "error", err)
		return false
	}
	if !result.HadChanges {
		return false
	}
	for _, f := range result.ChangedFiles {
		if s.relevant(f) {
			s.logger.Info("detected policy changes", "from_sha", short(result.FromSHA), "to_sha", short(result.ToSHA))
			return true
		}
	}
	s.logger.Debug("non-policy files changed, skipping reload", "changed_files", result.ChangedFiles)
	return false
}

// relevant reports whether a repository-relative path is a bundle file
// the file source would read.
func (s *Source) relevant(name string) bool {
	if s.dir != "" && path.Dir(name) != s.dir {
		return false
	}
	if s.dir == "" && strings.Contains(name, "/") {
		return false
	}
	base := path.Base(name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	ext := strings.ToLower(path.Ext(base))
	return ext == ".yaml" || ext == ".yml"
}

func short(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
