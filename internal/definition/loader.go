// Package definition loads board definitions from YAML, validates them and
// serves them from a registry that is swapped atomically on reload.
package definition

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pitabwire/catalogboard/model"
)

// Loader scans directories for board definition files.
type Loader struct{}

// NewLoader creates a new definition Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadAll recursively scans directories for *.yaml and *.yml files and parses
// each into a BoardDefinition.
func (l *Loader) LoadAll(directories []string) ([]model.BoardDefinition, error) {
	var defs []model.BoardDefinition

	for _, dir := range directories {
		err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !isDefinitionFile(path) {
				return nil
			}

			def, err := l.LoadFile(path)
			if err != nil {
				return fmt.Errorf("loading %s: %w", path, err)
			}
			defs = append(defs, def)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning directory %s: %w", dir, err)
		}
	}

	return defs, nil
}

// LoadFile parses a single board file, recording its SHA-256 checksum and
// source path.
func (l *Loader) LoadFile(path string) (model.BoardDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.BoardDefinition{}, fmt.Errorf("reading %s: %w", path, err)
	}

	var def model.BoardDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return model.BoardDefinition{}, fmt.Errorf("parsing %s: %w", path, err)
	}

	def.Checksum = fmt.Sprintf("%x", sha256.Sum256(data))
	def.SourceFile = path
	return def, nil
}

func isDefinitionFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
