package platforms

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fleetsync/internal/models"
)

// Registry loads platform profiles from platforms/*.toml at startup and
// serves them read-only. Profiles are operator-authored configuration;
// adding a portal means adding a file, not code.
type Registry struct {
	profiles map[string]*models.PlatformProfile
	logger   arbor.ILogger
}

// Load reads and validates every profile in dir
func Load(dir string, logger arbor.ILogger) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read platforms directory %s: %w", dir, err)
	}

	r := &Registry{
		profiles: make(map[string]*models.PlatformProfile),
		logger:   logger,
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".toml") {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}

		var profile models.PlatformProfile
		if err := toml.Unmarshal(data, &profile); err != nil {
			return nil, fmt.Errorf("malformed platform profile %s: %w", path, err)
		}
		if err := profile.Validate(); err != nil {
			return nil, fmt.Errorf("invalid platform profile %s: %w", path, err)
		}
		if _, exists := r.profiles[profile.Key]; exists {
			return nil, fmt.Errorf("duplicate platform key %s in %s", profile.Key, path)
		}

		r.profiles[profile.Key] = &profile
		logger.Info().
			Str("platform", profile.Key).
			Int("datasets", len(profile.Datasets)).
			Msg("Platform profile loaded")
	}

	if len(r.profiles) == 0 {
		logger.Warn().Str("dir", dir).Msg("No platform profiles found")
	}

	return r, nil
}

// Get returns the profile for a platform key
func (r *Registry) Get(key string) (*models.PlatformProfile, error) {
	profile, ok := r.profiles[key]
	if !ok {
		return nil, fmt.Errorf("unknown platform: %s", key)
	}
	return profile, nil
}

// Keys returns the loaded platform keys, sorted
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.profiles))
	for key := range r.profiles {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
