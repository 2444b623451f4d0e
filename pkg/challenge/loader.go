package challenge

import (
	"fmt"
	"os"
	"path/filepath"

	"sigs.k8s.io/yaml"
)

// Loader reads challenge definitions from disk. Relative paths are resolved
// against its base directory, so a catalog of challenges can be addressed by
// file name alone.
type Loader struct {
	basePath string
}

// NewLoader returns a Loader rooted at basePath. An empty basePath roots the
// loader at the working directory.
func NewLoader(basePath string) *Loader {
	if basePath == "" {
		basePath = "."
	}
	return &Loader{basePath: basePath}
}

// Load reads, parses and validates a single challenge definition. The
// returned Definition is ready to run; a definition that fails validation is
// never returned partially.
func (l *Loader) Load(path string) (*Definition, error) {
	resolved, err := l.resolvePath(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading challenge %s: %w", resolved, err)
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parsing challenge YAML %s: %w", resolved, err)
	}

	if err := Validate(&def); err != nil {
		return nil, fmt.Errorf("invalid challenge %s: %w", resolved, err)
	}

	return &def, nil
}

// LoadMultiple loads every path it can and collects errors for the rest, so
// one broken definition does not hide the others. Each error already names
// the file it came from.
func (l *Loader) LoadMultiple(paths []string) ([]*Definition, []error) {
	defs := make([]*Definition, 0, len(paths))
	var errs []error

	for _, path := range paths {
		def, err := l.Load(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		defs = append(defs, def)
	}

	return defs, errs
}

// resolvePath joins relative paths onto the base directory and checks the
// result exists. Absolute paths bypass the base directory and the existence
// check; ReadFile reports on those directly.
func (l *Loader) resolvePath(path string) (string, error) {
	if filepath.IsAbs(path) {
		return path, nil
	}

	resolved := filepath.Join(l.basePath, path)

	if _, err := os.Stat(resolved); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("challenge file not found: %s", resolved)
		}
		return "", fmt.Errorf("stat challenge file %s: %w", resolved, err)
	}

	return resolved, nil
}
