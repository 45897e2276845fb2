package directory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pelletier/go-toml/v2"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fleetsync/internal/interfaces"
	"github.com/ternarybob/fleetsync/internal/models"
)

// directoryFile is the on-disk shape of one tenant's fleet directory:
// fleet/<tenant>.toml listing vehicles by plate and drivers by card number
type directoryFile struct {
	Vehicles []vehicleEntry `toml:"vehicles"`
	Drivers  []driverEntry  `toml:"drivers"`
}

type vehicleEntry struct {
	ID    string `toml:"id"`
	Plate string `toml:"plate"`
}

type driverEntry struct {
	ID   string `toml:"id"`
	Card string `toml:"card"`
}

// Service resolves normalized identifiers against per-tenant directory
// files. Lookups are index-backed; the index for a tenant is built on first
// use and can be refreshed explicitly.
type Service struct {
	dir    string
	logger arbor.ILogger

	mu      sync.Mutex
	indexes map[string]map[string]interfaces.EntityRef
}

// NewService creates a file-backed fleet directory
func NewService(dir string, logger arbor.ILogger) *Service {
	return &Service{
		dir:     dir,
		logger:  logger,
		indexes: make(map[string]map[string]interfaces.EntityRef),
	}
}

// FindByNormalizedIdentifier returns the vehicle or driver a normalized
// identifier maps to, or nil when the tenant's directory has no match.
// Matching happens only within the tenant's own directory; rows belonging to
// another operator's fleet simply stay unmatched.
func (s *Service) FindByNormalizedIdentifier(ctx context.Context, tenant, identifier string) (*interfaces.EntityRef, error) {
	index, err := s.index(tenant)
	if err != nil {
		return nil, err
	}

	if ref, ok := index[identifier]; ok {
		refCopy := ref
		return &refCopy, nil
	}
	return nil, nil
}

// Refresh drops a tenant's cached index so the next lookup re-reads the file
func (s *Service) Refresh(tenant string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.indexes, tenant)
}

func (s *Service) index(tenant string) (map[string]interfaces.EntityRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index, ok := s.indexes[tenant]; ok {
		return index, nil
	}

	path := filepath.Join(s.dir, tenant+".toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("no directory file for tenant %s: %w", tenant, err)
	}

	var file directoryFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("malformed directory file %s: %w", path, err)
	}

	index := make(map[string]interfaces.EntityRef, len(file.Vehicles)+len(file.Drivers))
	for _, v := range file.Vehicles {
		key := models.NormalizeIdentifier(v.Plate)
		if key != "" && v.ID != "" {
			index[key] = interfaces.EntityRef{Kind: models.EntityVehicle, ID: v.ID}
		}
	}
	for _, d := range file.Drivers {
		key := models.NormalizeIdentifier(d.Card)
		if key != "" && d.ID != "" {
			index[key] = interfaces.EntityRef{Kind: models.EntityDriver, ID: d.ID}
		}
	}

	s.logger.Info().
		Str("tenant", tenant).
		Int("vehicles", len(file.Vehicles)).
		Int("drivers", len(file.Drivers)).
		Msg("Fleet directory loaded")

	s.indexes[tenant] = index
	return index, nil
}
