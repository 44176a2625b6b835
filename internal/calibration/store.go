package calibration

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"membria/internal/logging"
	"membria/internal/model"
)

// Store persists calibration profiles as one JSON file per namespace,
// keyed by domain inside the file.
type Store struct {
	basePath string
	ns       model.Namespace
	logger   logging.Logger

	mu    sync.Mutex
	cache map[string]map[string]*Profile // namespace key -> domain -> profile

	now func() time.Time
}

// NewStore creates a file-backed calibration store rooted at basePath.
func NewStore(basePath string, ns model.Namespace, logger logging.Logger) *Store {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Store{
		basePath: basePath,
		ns:       ns,
		logger:   logger,
		cache:    make(map[string]map[string]*Profile),
		now:      time.Now,
	}
}

// Record folds one outcome into the domain's posterior and persists it.
func (s *Store) Record(_ context.Context, domain string, success bool) (Profile, error) {
	domain = normalizeDomain(domain)

	s.mu.Lock()
	defer s.mu.Unlock()

	profiles, err := s.loadLocked()
	if err != nil {
		return Profile{}, fmt.Errorf("load profiles: %w", err)
	}

	p, ok := profiles[domain]
	if !ok {
		p = NewProfile(domain)
		profiles[domain] = p
	}
	p.Observe(success, s.now())

	if err := s.saveLocked(profiles); err != nil {
		return *p, fmt.Errorf("save profiles: %w", err)
	}

	s.logger.Debug("calibration: recorded outcome domain=%s success=%t mean=%.3f n=%d",
		domain, success, p.MeanSuccessRate, p.SampleSize)
	return *p, nil
}

// Guidance scores a claimed confidence against the domain's posterior.
// An unseen domain answers from the uniform prior with sample_size 0.
func (s *Store) Guidance(_ context.Context, domain string, confidence float64) (Guidance, error) {
	domain = normalizeDomain(domain)

	s.mu.Lock()
	defer s.mu.Unlock()

	profiles, err := s.loadLocked()
	if err != nil {
		return Guidance{}, fmt.Errorf("load profiles: %w", err)
	}

	p, ok := profiles[domain]
	if !ok {
		p = NewProfile(domain)
	}
	return p.GuidanceFor(confidence), nil
}

// Profile returns a copy of the stored posterior for a domain.
func (s *Store) Profile(_ context.Context, domain string) (Profile, bool, error) {
	domain = normalizeDomain(domain)

	s.mu.Lock()
	defer s.mu.Unlock()

	profiles, err := s.loadLocked()
	if err != nil {
		return Profile{}, false, fmt.Errorf("load profiles: %w", err)
	}
	p, ok := profiles[domain]
	if !ok {
		return Profile{}, false, nil
	}
	return *p, true, nil
}

// Profiles returns copies of every stored posterior, sorted by domain.
func (s *Store) Profiles(_ context.Context) ([]Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	profiles, err := s.loadLocked()
	if err != nil {
		return nil, fmt.Errorf("load profiles: %w", err)
	}

	out := make([]Profile, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out, nil
}

// loadLocked reads this namespace's profiles from disk. Must be called with
// s.mu held.
func (s *Store) loadLocked() (map[string]*Profile, error) {
	key := s.ns.Key()
	if cached, ok := s.cache[key]; ok {
		return cached, nil
	}

	profiles := make(map[string]*Profile)
	data, err := os.ReadFile(s.profileFilePath())
	if err != nil {
		if os.IsNotExist(err) {
			s.cache[key] = profiles
			return profiles, nil
		}
		return nil, fmt.Errorf("read profile file: %w", err)
	}
	if err := json.Unmarshal(data, &profiles); err != nil {
		return nil, fmt.Errorf("unmarshal profiles: %w", err)
	}

	s.cache[key] = profiles
	return profiles, nil
}

// saveLocked writes this namespace's profiles to disk. Must be called with
// s.mu held.
func (s *Store) saveLocked(profiles map[string]*Profile) error {
	dirPath := filepath.Join(s.basePath, s.ns.Key())
	if err := os.MkdirAll(dirPath, 0o755); err != nil {
		return fmt.Errorf("create namespace dir: %w", err)
	}
	data, err := json.MarshalIndent(profiles, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal profiles: %w", err)
	}
	if err := os.WriteFile(s.profileFilePath(), data, 0o644); err != nil {
		return fmt.Errorf("write profile file: %w", err)
	}
	return nil
}

func (s *Store) profileFilePath() string {
	return filepath.Join(s.basePath, s.ns.Key(), "profiles.json")
}

func normalizeDomain(domain string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return "general"
	}
	return domain
}
