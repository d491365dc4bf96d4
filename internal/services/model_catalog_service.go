package services

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"stageflow/internal/data/embedded"
	"stageflow/pkg/flowtypes"
)

type modelCatalogFile struct {
	Providers []flowtypes.CatalogProvider `yaml:"providers"`
}

var (
	builtinCatalogOnce sync.Once
	builtinCatalog     []flowtypes.CatalogProvider
	builtinCatalogErr  error
)

// loadBuiltinCatalog parses the embedded catalog once.
func loadBuiltinCatalog() ([]flowtypes.CatalogProvider, error) {
	builtinCatalogOnce.Do(func() {
		builtinCatalog, builtinCatalogErr = parseModelCatalog(embedded.ModelCatalogData)
	})
	return builtinCatalog, builtinCatalogErr
}

func parseModelCatalog(data []byte) ([]flowtypes.CatalogProvider, error) {
	var file modelCatalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse model catalog: %w", err)
	}
	for i := range file.Providers {
		provider := &file.Providers[i]
		provider.Name = strings.ToLower(provider.Name)
		for j := range provider.Models {
			provider.Models[j].Provider = provider.Name
		}
		if err := validateUniqueIDs(provider.Models); err != nil {
			return nil, fmt.Errorf("provider '%s': %w", provider.Name, err)
		}
	}
	return file.Providers, nil
}

// validateUniqueIDs checks for duplicate model IDs (case-insensitive).
func validateUniqueIDs(models []flowtypes.ModelCatalogEntry) error {
	seenIDs := make(map[string]string) // normalized_id -> original_id
	for _, model := range models {
		if model.ID == "" {
			return fmt.Errorf("model '%s' has empty ID field", model.DisplayName)
		}
		normalizedID := strings.ToUpper(model.ID)
		if existingID, exists := seenIDs[normalizedID]; exists {
			return fmt.Errorf("duplicate model ID found: '%s' and '%s' (case insensitive)", existingID, model.ID)
		}
		seenIDs[normalizedID] = model.ID
	}
	return nil
}

// DefaultModel returns the catalog default model for provider, or "" when the
// provider has none (compatible endpoints always need an explicit model).
func DefaultModel(provider string) string {
	catalog, err := loadBuiltinCatalog()
	if err != nil {
		return ""
	}
	provider = strings.ToLower(provider)
	for _, p := range catalog {
		if p.Name == provider {
			return p.Default
		}
	}
	return ""
}

// ModelCatalogService lists the models known for each supported provider.
type ModelCatalogService struct {
	initialized bool
	providers   []flowtypes.CatalogProvider
}

// NewModelCatalogService creates a new ModelCatalogService instance.
func NewModelCatalogService() *ModelCatalogService {
	return &ModelCatalogService{}
}

// Name returns the service name "model_catalog" for registration.
func (m *ModelCatalogService) Name() string {
	return "model_catalog"
}

// Initialize loads the embedded catalog.
func (m *ModelCatalogService) Initialize() error {
	providers, err := loadBuiltinCatalog()
	if err != nil {
		return err
	}
	m.providers = providers
	m.initialized = true
	return nil
}

// GetModelCatalog returns every catalog model ordered by provider then ID.
func (m *ModelCatalogService) GetModelCatalog() ([]flowtypes.ModelCatalogEntry, error) {
	if !m.initialized {
		return nil, fmt.Errorf("model catalog service not initialized")
	}
	var all []flowtypes.ModelCatalogEntry
	for _, p := range m.providers {
		all = append(all, p.Models...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Provider != all[j].Provider {
			return all[i].Provider < all[j].Provider
		}
		return all[i].ID < all[j].ID
	})
	return all, nil
}

// GetModelCatalogByProvider returns the models of one provider.
func (m *ModelCatalogService) GetModelCatalogByProvider(provider string) ([]flowtypes.ModelCatalogEntry, error) {
	if !m.initialized {
		return nil, fmt.Errorf("model catalog service not initialized")
	}
	provider = strings.ToLower(provider)
	for _, p := range m.providers {
		if p.Name == provider {
			return append([]flowtypes.ModelCatalogEntry(nil), p.Models...), nil
		}
	}
	return nil, fmt.Errorf("unsupported provider '%s'. Supported providers: %s", provider, strings.Join(SupportedProviders, ", "))
}

// GetModelByID looks a model up by ID across all providers, ignoring case.
func (m *ModelCatalogService) GetModelByID(id string) (flowtypes.ModelCatalogEntry, error) {
	if !m.initialized {
		return flowtypes.ModelCatalogEntry{}, fmt.Errorf("model catalog service not initialized")
	}
	for _, p := range m.providers {
		for _, model := range p.Models {
			if strings.EqualFold(model.ID, id) {
				return model, nil
			}
		}
	}
	return flowtypes.ModelCatalogEntry{}, fmt.Errorf("model with ID '%s' not found in catalog", id)
}
