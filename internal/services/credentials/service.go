package credentials

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fleetsync/internal/models"
)

// credentialFile is the on-disk shape of one tenant's credential bundle:
// credentials/<tenant>.toml with one [platforms.<key>] table per portal
type credentialFile struct {
	Platforms map[string]credentialEntry `toml:"platforms"`
}

type credentialEntry struct {
	Identifier string `toml:"identifier"`
	Secret     string `toml:"secret"`
	PIN        string `toml:"pin"`
}

// Service reads tenant credentials from TOML files. Files are read per
// request and never cached, so secrets stay in memory only for the duration
// of a login attempt and operators can rotate them without a restart.
type Service struct {
	dir    string
	logger arbor.ILogger
}

// NewService creates a file-backed credential source
func NewService(dir string, logger arbor.ILogger) *Service {
	return &Service{dir: dir, logger: logger}
}

// GetCredential loads one tenant/platform credential
func (s *Service) GetCredential(ctx context.Context, tenant, platform string) (*models.Credential, error) {
	path := filepath.Join(s.dir, tenant+".toml")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("no credential file for tenant %s: %w", tenant, err)
	}

	var file credentialFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("malformed credential file %s: %w", path, err)
	}

	entry, ok := file.Platforms[platform]
	if !ok {
		return nil, fmt.Errorf("tenant %s has no credential for platform %s", tenant, platform)
	}
	if entry.Identifier == "" || entry.Secret == "" {
		return nil, fmt.Errorf("tenant %s credential for %s is incomplete", tenant, platform)
	}

	return &models.Credential{
		Tenant:     tenant,
		Platform:   platform,
		Identifier: entry.Identifier,
		Secret:     entry.Secret,
		PIN:        entry.PIN,
	}, nil
}
