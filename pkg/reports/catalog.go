// Package reports loads the read-only report template catalog.
package reports

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/branchsight/branchsight-engine/pkg/models"
)

// Catalog holds the report templates available to the dashboard. The
// reporting subsystem owns this data; the engine reads it once at startup
// and treats the query texts as opaque strings to template-substitute.
type Catalog struct {
	mu        sync.RWMutex
	templates map[string]*models.ReportTemplate
}

type catalogFile struct {
	Reports []models.ReportTemplate `yaml:"reports"`
}

// LoadCatalog reads the YAML catalog file from disk.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read reports catalog: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse reports catalog: %w", err)
	}

	c := &Catalog{templates: make(map[string]*models.ReportTemplate, len(file.Reports))}
	for i := range file.Reports {
		t := &file.Reports[i]
		if t.ReportID == "" {
			return nil, fmt.Errorf("reports catalog entry %d has no report_id", i)
		}
		if t.QueryText == "" && t.QueryTextAlt == "" {
			return nil, fmt.Errorf("report %q has no query text", t.ReportID)
		}
		c.templates[t.ReportID] = t
	}
	return c, nil
}

// NewCatalog builds a catalog from templates directly. Used in tests and by
// callers that fetch templates from elsewhere.
func NewCatalog(templates ...models.ReportTemplate) *Catalog {
	c := &Catalog{templates: make(map[string]*models.ReportTemplate, len(templates))}
	for i := range templates {
		c.templates[templates[i].ReportID] = &templates[i]
	}
	return c
}

// Get returns the template for a report id, or false if unknown.
func (c *Catalog) Get(reportID string) (*models.ReportTemplate, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.templates[reportID]
	return t, ok
}

// Len returns the number of templates in the catalog.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.templates)
}
