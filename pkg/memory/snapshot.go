package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const (
	snapshotPrefix = "memory-"
	snapshotSuffix = ".json"
	snapshotLayout = "20060102T150405.000000000Z"
)

// DocumentSource is implemented by Store.
type DocumentSource interface {
	Document() ([]byte, error)
}

// SnapshotConfig configures periodic copies of the memory document.
type SnapshotConfig struct {
	Source   DocumentSource
	Dir      string
	Schedule string // standard five-field cron expression
	Keep     int    // snapshots retained; zero keeps all
	Logger   zerolog.Logger
}

// Snapshotter writes timestamped copies of the document on a cron schedule.
type Snapshotter struct {
	cfg  SnapshotConfig
	cron *cron.Cron
	now  func() time.Time
}

// NewSnapshotter validates the schedule and registers the snapshot job.
// The job does not run until Start.
func NewSnapshotter(cfg SnapshotConfig) (*Snapshotter, error) {
	if cfg.Source == nil {
		return nil, errors.New("snapshot source is required")
	}
	if cfg.Dir == "" {
		return nil, errors.New("snapshot directory is required")
	}

	s := &Snapshotter{
		cfg:  cfg,
		cron: cron.New(),
		now:  time.Now,
	}

	if cfg.Schedule != "" {
		if _, err := s.cron.AddFunc(cfg.Schedule, s.runScheduled); err != nil {
			return nil, fmt.Errorf("invalid snapshot schedule: %w", err)
		}
	}

	return s, nil
}

func (s *Snapshotter) Start() {
	s.cron.Start()
	s.cfg.Logger.Info().
		Str("schedule", s.cfg.Schedule).
		Str("dir", s.cfg.Dir).
		Msg("Memory snapshots scheduled")
}

// Stop waits for a running snapshot to finish.
func (s *Snapshotter) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Snapshotter) runScheduled() {
	if _, err := s.SnapshotNow(context.Background()); err != nil {
		s.cfg.Logger.Error().Err(err).Msg("Memory snapshot failed")
	}
}

// SnapshotNow writes one snapshot and prunes old ones. It returns the new file path.
func (s *Snapshotter) SnapshotNow(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := s.cfg.Source.Document()
	if err != nil {
		return "", fmt.Errorf("failed to read memory document: %w", err)
	}

	name := snapshotPrefix + s.now().UTC().Format(snapshotLayout) + snapshotSuffix
	path := filepath.Join(s.cfg.Dir, name)
	if err := writeFileAtomic(path, data); err != nil {
		return "", err
	}

	s.cfg.Logger.Debug().Str("path", path).Msg("Memory snapshot written")

	if err := s.prune(); err != nil {
		s.cfg.Logger.Warn().Err(err).Msg("Failed to prune memory snapshots")
	}
	return path, nil
}

// Snapshots lists snapshot files oldest first.
func (s *Snapshotter) Snapshots() ([]string, error) {
	entries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, snapshotPrefix) || !strings.HasSuffix(name, snapshotSuffix) {
			continue
		}
		names = append(names, name)
	}
	// Fixed-width UTC timestamps sort chronologically.
	sort.Strings(names)

	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = filepath.Join(s.cfg.Dir, name)
	}
	return paths, nil
}

func (s *Snapshotter) prune() error {
	if s.cfg.Keep <= 0 {
		return nil
	}
	paths, err := s.Snapshots()
	if err != nil {
		return err
	}
	for len(paths) > s.cfg.Keep {
		if err := os.Remove(paths[0]); err != nil && !os.IsNotExist(err) {
			return err
		}
		paths = paths[1:]
	}
	return nil
}
