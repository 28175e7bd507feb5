package cardigann

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	fileExtYML  = ".yml"
	fileExtYAML = ".yaml"
)

// DefinitionMetadata summarizes a definition without its full content.
type DefinitionMetadata struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Type        string `json:"type"` // public, private, semi-private
	Language    string `json:"language"`
	Protocol    string `json:"protocol"` // torrent, usenet
}

// DefinitionStore loads YAML definitions from disk and caches the parsed
// form in memory. Custom definitions shadow standard ones with the same ID.
type DefinitionStore struct {
	definitionsDir string
	customDir      string
	logger         zerolog.Logger

	mu    sync.RWMutex
	cache map[string]*storedDefinition
}

type storedDefinition struct {
	def      *Definition
	loadedAt time.Time
	filePath string
	isCustom bool
}

// StoreConfig configures where definition files live.
type StoreConfig struct {
	DefinitionsDir string
	CustomDir      string
}

// DefaultStoreConfig returns the default directory layout.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		DefinitionsDir: "./data/definitions",
		CustomDir:      "./data/definitions/custom",
	}
}

// NewDefinitionStore creates a store and ensures its directories exist.
func NewDefinitionStore(cfg StoreConfig, logger zerolog.Logger) (*DefinitionStore, error) {
	if cfg.DefinitionsDir == "" {
		cfg.DefinitionsDir = DefaultStoreConfig().DefinitionsDir
	}
	if cfg.CustomDir == "" {
		cfg.CustomDir = DefaultStoreConfig().CustomDir
	}

	if err := os.MkdirAll(cfg.DefinitionsDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create definitions directory: %w", err)
	}
	if err := os.MkdirAll(cfg.CustomDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create custom definitions directory: %w", err)
	}

	return &DefinitionStore{
		definitionsDir: cfg.DefinitionsDir,
		customDir:      cfg.CustomDir,
		logger:         logger.With().Str("component", "definitions").Logger(),
		cache:          make(map[string]*storedDefinition),
	}, nil
}

// Get returns a definition by ID, loading from disk on first use.
func (s *DefinitionStore) Get(id string) (*Definition, error) {
	s.mu.RLock()
	if cached, ok := s.cache[id]; ok {
		s.mu.RUnlock()
		return cached.def, nil
	}
	s.mu.RUnlock()

	def, path, isCustom, err := s.loadFromDisk(id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[id] = &storedDefinition{
		def:      def,
		loadedAt: time.Now(),
		filePath: path,
		isCustom: isCustom,
	}
	s.mu.Unlock()

	return def, nil
}

// List returns metadata for every definition on disk, custom first, sorted
// by ID.
func (s *DefinitionStore) List() []*DefinitionMetadata {
	var result []*DefinitionMetadata
	seen := make(map[string]bool)

	for _, dir := range []struct {
		path     string
		isCustom bool
	}{
		{s.customDir, true},
		{s.definitionsDir, false},
	} {
		for _, meta := range s.listDirectory(dir.path, dir.isCustom) {
			if !seen[meta.ID] {
				seen[meta.ID] = true
				result = append(result, meta)
			}
		}
	}

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Store validates and writes a definition into the custom directory, then
// refreshes the cache entry.
func (s *DefinitionStore) Store(id string, data []byte) error {
	def, err := ParseDefinition(data)
	if err != nil {
		return fmt.Errorf("invalid definition: %w", err)
	}
	if def.ID != id {
		return fmt.Errorf("definition id %q does not match filename id %q", def.ID, id)
	}

	path := filepath.Join(s.customDir, id+fileExtYML)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write definition: %w", err)
	}

	s.mu.Lock()
	s.cache[id] = &storedDefinition{
		def:      def,
		loadedAt: time.Now(),
		filePath: path,
		isCustom: true,
	}
	s.mu.Unlock()

	s.logger.Info().Str("definition", id).Msg("Stored custom definition")
	return nil
}

// Invalidate drops a definition from the memory cache so the next Get
// re-reads it from disk.
func (s *DefinitionStore) Invalidate(id string) {
	s.mu.Lock()
	delete(s.cache, id)
	s.mu.Unlock()
}

// loadFromDisk locates and parses a definition file, preferring the custom
// directory.
func (s *DefinitionStore) loadFromDisk(id string) (*Definition, string, bool, error) {
	candidates := []struct {
		path     string
		isCustom bool
	}{
		{filepath.Join(s.customDir, id+fileExtYML), true},
		{filepath.Join(s.customDir, id+fileExtYAML), true},
		{filepath.Join(s.definitionsDir, id+fileExtYML), false},
		{filepath.Join(s.definitionsDir, id+fileExtYAML), false},
	}

	for _, c := range candidates {
		data, err := os.ReadFile(c.path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, "", false, fmt.Errorf("failed to read definition %s: %w", id, err)
		}
		def, err := ParseDefinition(data)
		if err != nil {
			return nil, "", false, fmt.Errorf("failed to parse definition %s: %w", id, err)
		}
		return def, c.path, c.isCustom, nil
	}

	return nil, "", false, fmt.Errorf("definition %q not found", id)
}

func (s *DefinitionStore) listDirectory(dir string, isCustom bool) []*DefinitionMetadata {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn().Str("dir", dir).Err(err).Msg("Failed to list definitions directory")
		}
		return nil
	}

	var result []*DefinitionMetadata
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if ext != fileExtYML && ext != fileExtYAML {
			continue
		}
		id := strings.TrimSuffix(name, ext)

		def, err := s.Get(id)
		if err != nil {
			s.logger.Warn().Str("file", name).Err(err).Msg("Skipping unparseable definition")
			continue
		}
		result = append(result, &DefinitionMetadata{
			ID:          def.ID,
			Name:        def.Name,
			Description: def.Description,
			Type:        def.Type,
			Language:    def.Language,
			Protocol:    def.GetProtocol(),
		})
	}
	return result
}
