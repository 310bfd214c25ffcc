package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Ramsey-B/clover/pkg/models"
)

// SourcesFile is the YAML layout of the source table catalog
type SourcesFile struct {
	Tables []models.SourceTable `yaml:"tables"`
}

// LoadCatalog reads the source table catalog from a YAML file
func LoadCatalog(path string) (*models.Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sources file: %w", err)
	}
	return ParseCatalog(data)
}

func ParseCatalog(data []byte) (*models.Catalog, error) {
	var file SourcesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse sources file: %w", err)
	}
	if len(file.Tables) == 0 {
		return nil, fmt.Errorf("sources file declares no tables")
	}
	return models.NewCatalog(file.Tables)
}
