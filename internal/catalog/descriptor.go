package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Descriptor is the static file form of a catalog.
type Descriptor struct {
	Tables []TableDescriptor `json:"tables" yaml:"tables"`
}

type TableDescriptor struct {
	ID         string             `json:"id" yaml:"id"`
	Name       string             `json:"name" yaml:"name"`
	PrimaryKey PrimaryKey         `json:"primary_key" yaml:"primary_key"`
	Columns    []ColumnDescriptor `json:"columns" yaml:"columns"`
	Dependents []string           `json:"dependents" yaml:"dependents"`
	View       string             `json:"view" yaml:"view"`
	WatchWAL   bool               `json:"watch_wal" yaml:"watch_wal"`
}

// ColumnDescriptor leaves Notify unset to mean true.
type ColumnDescriptor struct {
	Name   string `json:"name" yaml:"name"`
	Type   string `json:"type" yaml:"type"`
	Notify *bool  `json:"notify" yaml:"notify"`
}

// LoadFile reads a descriptor from a YAML or JSON file. The format is chosen
// by extension (.yaml, .yml or .json).
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}

	var d Descriptor
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &d); err != nil {
			return nil, fmt.Errorf("failed to parse YAML catalog: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, fmt.Errorf("failed to parse JSON catalog: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported catalog file format: %s (supported: .yaml, .yml, .json)", ext)
	}
	return d.Build()
}

// Build converts the descriptor into a Catalog.
func (d Descriptor) Build() (*Catalog, error) {
	tables := make([]TableDetails, 0, len(d.Tables))
	for _, td := range d.Tables {
		t := TableDetails{
			ID:         td.ID,
			Name:       td.Name,
			PrimaryKey: td.PrimaryKey,
			Dependents: td.Dependents,
			View:       td.View,
			WatchWAL:   td.WatchWAL,
		}
		for _, cd := range td.Columns {
			notify := true
			if cd.Notify != nil {
				notify = *cd.Notify
			}
			t.Columns = append(t.Columns, Column{Name: cd.Name, Type: cd.Type, NotifyOnChange: notify})
		}
		tables = append(tables, t)
	}
	return New(tables...)
}
