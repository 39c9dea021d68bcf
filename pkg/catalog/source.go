package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

type inMemSource struct {
	entries []Entry
}

// NewInMemSource returns a Source backed by the given entries.
// Entries are copied so later mutation of the slice cannot affect the catalog.
// Panics if no entries are provided.
func NewInMemSource(entries ...Entry) Source {
	if len(entries) == 0 {
		panic("catalog: at least one entry is required")
	}
	return &inMemSource{entries: slices.Clone(entries)}
}

func (s *inMemSource) Load(_ context.Context) ([]Entry, error) {
	return slices.Clone(s.entries), nil
}

type yamlSource struct {
	path string
}

// NewYAMLSource returns a Source that reads catalog entries from a YAML file.
// The expected document shape:
//
//	plans:
//	  - plan: basic
//	    period: monthly
//	    price_id: price_basic_monthly
//	    product_id: lume_basic_monthly
//	    price:
//	      amount: 999
//	      currency: USD
func NewYAMLSource(path string) Source {
	if path == "" {
		panic("catalog: YAML source path is required")
	}
	return &yamlSource{path: path}
}

func (s *yamlSource) Load(_ context.Context) ([]Entry, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file %s: %w", s.path, err)
	}

	var doc struct {
		Plans []Entry `yaml:"plans"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog file %s: %w", s.path, err)
	}
	if len(doc.Plans) == 0 {
		return nil, errors.New("catalog file has no plans")
	}

	return doc.Plans, nil
}
