// Package catalog provides product metadata and golden-sample lists to the aggregation handler.
package catalog

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Product is the metadata kept for one product id.
type Product struct {
	ID            string   `yaml:"id" json:"id"`
	Name          string   `yaml:"name" json:"name"`
	Boards        int      `yaml:"boards" json:"boards"` // expected boards per panel, 0 if unknown
	MinFirmware   string   `yaml:"min_firmware" json:"minFirmware,omitempty"`
	GoldenSamples []string `yaml:"golden_samples" json:"goldenSamples,omitempty"`
}

// Source looks up product metadata and golden samples.
type Source interface {
	Product(id string) (Product, bool)
	GoldenSamples(product string) (map[string]struct{}, error)
}

// Catalog is a static, in-memory Source.
type Catalog struct {
	Products []Product `yaml:"products"`
	// Golden lists DMCs that are golden samples regardless of product.
	Golden []string `yaml:"golden_samples"`

	byID map[string]int
}

// New builds a catalog from product entries.
func New(products ...Product) *Catalog {
	c := &Catalog{Products: products}
	c.index()
	return c
}

func (c *Catalog) index() {
	c.byID = make(map[string]int, len(c.Products))
	for i, p := range c.Products {
		c.byID[strings.TrimSpace(p.ID)] = i
	}
}

func (c *Catalog) Product(id string) (Product, bool) {
	if c == nil {
		return Product{}, false
	}
	i, ok := c.byID[id]
	if !ok {
		return Product{}, false
	}
	return c.Products[i], true
}

// GoldenSamples returns the golden DMCs for a product plus the global list.
func (c *Catalog) GoldenSamples(product string) (map[string]struct{}, error) {
	set := make(map[string]struct{})
	if c == nil {
		return set, nil
	}
	for _, dmc := range c.Golden {
		set[strings.TrimSpace(dmc)] = struct{}{}
	}
	if p, ok := c.Product(product); ok {
		for _, dmc := range p.GoldenSamples {
			set[strings.TrimSpace(dmc)] = struct{}{}
		}
	}
	return set, nil
}

// LoadFile parses a YAML catalog file.
func LoadFile(filePath string) (*Catalog, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return LoadFromReader(file)
}

// LoadFromReader parses a YAML catalog.
func LoadFromReader(r io.Reader) (*Catalog, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	for i, p := range c.Products {
		if strings.TrimSpace(p.ID) == "" {
			return nil, fmt.Errorf("catalog: product %d has no id", i+1)
		}
	}
	c.index()
	return &c, nil
}
