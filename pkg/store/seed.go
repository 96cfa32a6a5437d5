package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Namchee/tanyaaja/pkg/models"
)

type seedFile struct {
	Owners []models.OwnerRecord `yaml:"owners"`
}

// LoadSeed reads owner fixtures from a YAML file of the form:
//
//	owners:
//	  - uid: u-1
//	    slug: namchee
//	    name: Namchee
func LoadSeed(path string) ([]models.OwnerRecord, error) {
	raw, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	var f seedFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	for i, o := range f.Owners {
		if strings.TrimSpace(o.ID) == "" || strings.TrimSpace(o.Slug) == "" {
			return nil, fmt.Errorf("seed owner %d: uid and slug are required", i)
		}
	}
	return f.Owners, nil
}

func Seed(ctx context.Context, s OwnerSeeder, owners []models.OwnerRecord) error {
	for _, o := range owners {
		if err := s.UpsertOwner(ctx, o); err != nil {
			return fmt.Errorf("seed owner %s: %w", o.Slug, err)
		}
	}
	return nil
}
