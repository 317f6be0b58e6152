package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/jellydator/ttlcache/v3"
)

const (
	defaultProbeTTL = 5 * time.Minute
	defaultWorkers  = 4
)

type Config struct {
	Logger  *slog.Logger
	Backend Backend

	// Optional with defaults.
	ProbeTTL time.Duration
	Workers  int
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Backend == nil {
		return errors.New("backend is required")
	}
	if c.ProbeTTL == 0 {
		c.ProbeTTL = defaultProbeTTL
	}
	if c.ProbeTTL < 0 {
		return errors.New("probe ttl must be > 0")
	}
	if c.Workers == 0 {
		c.Workers = defaultWorkers
	}
	if c.Workers < 0 {
		return errors.New("workers must be > 0")
	}
	return nil
}

// Store restores and saves cache entries for a run. Remote existence probes
// are memoized in-process so repeated path probes under one key do not hammer
// the backend.
type Store struct {
	log    *slog.Logger
	cfg    *Config
	probes *ttlcache.Cache[string, bool]
	pool   pond.ResultPool[string]
}

func New(cfg *Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate cache config: %w", err)
	}
	probes := ttlcache.New(
		ttlcache.WithTTL[string, bool](cfg.ProbeTTL),
	)
	return &Store{
		log:    cfg.Logger,
		cfg:    cfg,
		probes: probes,
		pool:   pond.NewResultPool[string](cfg.Workers),
	}, nil
}

// Restore fetches every cached path under key into workdir. It reports
// whether all paths hit. A partial hit counts as a miss: the build re-fetches
// what is missing, which is safe because the cache is advisory.
func (s *Store) Restore(ctx context.Context, key string, paths []string, workdir string) (bool, error) {
	if len(paths) == 0 {
		return false, nil
	}
	hits := 0
	for _, p := range paths {
		ek := entryKey(key, p)
		ok, err := s.has(ctx, ek)
		if err != nil {
			return false, fmt.Errorf("failed to probe cache for %s: %w", p, err)
		}
		if !ok {
			s.log.Debug("cache miss", "key", key, "path", p)
			continue
		}
		body, err := s.cfg.Backend.Get(ctx, ek)
		if err != nil {
			if errors.Is(err, ErrMiss) {
				continue
			}
			return false, fmt.Errorf("failed to fetch cache entry for %s: %w", p, err)
		}
		err = unpackTree(body, filepath.Join(workdir, filepath.FromSlash(p)))
		_ = body.Close()
		if err != nil {
			return false, fmt.Errorf("failed to restore cache entry for %s: %w", p, err)
		}
		s.log.Debug("cache hit", "key", key, "path", p)
		hits++
	}
	return hits == len(paths), nil
}

// Save archives every existing cache path under key. Paths are packed
// concurrently; missing paths are skipped (a failed or partial build may not
// have produced them).
func (s *Store) Save(ctx context.Context, key string, paths []string, workdir string) error {
	group := s.pool.NewGroupContext(ctx)
	for _, p := range paths {
		p := p
		group.SubmitErr(func() (string, error) {
			root := filepath.Join(workdir, filepath.FromSlash(p))
			if _, err := os.Stat(root); err != nil {
				if os.IsNotExist(err) {
					return "", nil
				}
				return "", fmt.Errorf("failed to stat cache path %s: %w", p, err)
			}
			var buf bytes.Buffer
			if err := packTree(&buf, root); err != nil {
				return "", fmt.Errorf("failed to pack cache path %s: %w", p, err)
			}
			ek := entryKey(key, p)
			if err := s.cfg.Backend.Put(ctx, ek, &buf); err != nil {
				return "", fmt.Errorf("failed to store cache path %s: %w", p, err)
			}
			s.probes.Set(ek, true, s.cfg.ProbeTTL)
			return p, nil
		})
	}
	saved, err := group.Wait()
	if err != nil {
		return err
	}
	for _, p := range saved {
		if p != "" {
			s.log.Debug("cache saved", "key", key, "path", p)
		}
	}
	return nil
}

func (s *Store) has(ctx context.Context, ek string) (bool, error) {
	if item := s.probes.Get(ek); item != nil {
		return item.Value(), nil
	}
	ok, err := s.cfg.Backend.Has(ctx, ek)
	if err != nil {
		return false, err
	}
	s.probes.Set(ek, ok, s.cfg.ProbeTTL)
	return ok, nil
}
