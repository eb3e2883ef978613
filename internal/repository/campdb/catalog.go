package campdb

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/zhouzirui/camp-guide/backend/internal/model/camp"
)

//go:embed seed/camps.yaml
var seedCatalog []byte

type catalogFile struct {
	Camps []camp.Record `yaml:"camps"`
}

// Catalog is an in-memory Repository loaded from YAML.
type Catalog struct {
	mu      sync.RWMutex
	records []camp.Record
}

// NewCatalog parses a YAML catalog document.
func NewCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse camp catalog: %w", err)
	}
	seen := make(map[int64]struct{}, len(file.Camps))
	for i, r := range file.Camps {
		if r.ID == 0 || strings.TrimSpace(r.Name) == "" {
			return nil, fmt.Errorf("camp catalog entry %d: id and name are required", i)
		}
		if _, dup := seen[r.ID]; dup {
			return nil, fmt.Errorf("camp catalog entry %d: duplicate id %d", i, r.ID)
		}
		seen[r.ID] = struct{}{}
	}
	return &Catalog{records: file.Camps}, nil
}

// LoadCatalog reads the catalog at path, or the embedded seed when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return NewCatalog(seedCatalog)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read camp catalog %s: %w", path, err)
	}
	return NewCatalog(data)
}

// Query returns matching records in catalog order.
func (c *Catalog) Query(ctx context.Context, criteria camp.FilterCriteria) ([]camp.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]camp.Record, 0, len(c.records))
	for _, r := range c.records {
		if criteria.Matches(r) {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

// Categories lists every distinct category, sorted.
func (c *Catalog) Categories(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return uniqueCategories(c.records), nil
}

// FindByID looks up a single camp.
func (c *Catalog) FindByID(ctx context.Context, id int64) (camp.Record, error) {
	if err := ctx.Err(); err != nil {
		return camp.Record{}, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, r := range c.records {
		if r.ID == id {
			return r.Clone(), nil
		}
	}
	return camp.Record{}, ErrNotFound
}
