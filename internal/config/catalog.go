package config

import (
	"fmt"
	"os"

	"salonbook/internal/models"

	yamlv2 "gopkg.in/yaml.v2"
)

// LoadCatalog reads and validates catalog.yaml.
func LoadCatalog(path string) (*models.Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var catalog models.Catalog
	if err := yamlv2.Unmarshal([]byte(os.ExpandEnv(string(data))), &catalog); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	if err := ValidateCatalog(&catalog); err != nil {
		return nil, err
	}
	return &catalog, nil
}

// ValidateCatalog rejects empty or duplicate ids, negative prices and references
// to salons the catalog does not declare.
func ValidateCatalog(catalog *models.Catalog) error {
	salons := make(map[string]bool)
	for _, s := range catalog.Salons {
		if s.ID == "" {
			return fmt.Errorf("salon '%s' has an empty id", s.Name)
		}
		if salons[s.ID] {
			return fmt.Errorf("duplicate salon id found: %s", s.ID)
		}
		salons[s.ID] = true
	}

	services := make(map[string]bool)
	for _, s := range catalog.Services {
		if s.ID == "" {
			return fmt.Errorf("service '%s' has an empty id", s.Name)
		}
		if services[s.ID] {
			return fmt.Errorf("duplicate service id found: %s", s.ID)
		}
		if !salons[s.SalonID] {
			return fmt.Errorf("service %s references unknown salon %s", s.ID, s.SalonID)
		}
		if s.Price < 0 {
			return fmt.Errorf("service %s has a negative price", s.ID)
		}
		services[s.ID] = true
	}

	staff := make(map[string]bool)
	for _, s := range catalog.Staff {
		if s.ID == "" {
			return fmt.Errorf("staff member '%s' has an empty id", s.Name)
		}
		if staff[s.ID] {
			return fmt.Errorf("duplicate staff id found: %s", s.ID)
		}
		if !salons[s.SalonID] {
			return fmt.Errorf("staff %s references unknown salon %s", s.ID, s.SalonID)
		}
		staff[s.ID] = true
	}
	return nil
}
