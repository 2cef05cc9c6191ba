// Package definition loads connector and workflow definitions from YAML or
// JSON files, resolving ${env:NAME} and ${secret:NAME} references.
package definition

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/pitabwire/switchboard/model"
)

// referencePattern matches ${env:NAME} and ${secret:NAME}.
var referencePattern = regexp.MustCompile(`\$\{(env|secret):([A-Za-z_][A-Za-z0-9_]*)\}`)

// Source records one parsed definition file.
type Source struct {
	Path     string `json:"path"`
	Checksum string `json:"checksum"`
}

// Loaded is the merged result of loading every definition file.
type Loaded struct {
	Definitions model.Definitions
	Sources     []Source
	// Checksum combines the checksums of all sources.
	Checksum string
	// Warnings lists unresolved references, which expand to empty strings.
	Warnings []string
}

// Loader scans directories for definition files. Secrets are read once from
// dotenv files when the Loader is built.
type Loader struct {
	secrets   map[string]string
	lookupEnv func(string) (string, bool)
}

// NewLoader creates a Loader whose ${secret:NAME} references are resolved
// from secretsFiles first and the process environment second. Missing
// secrets files are skipped.
func NewLoader(secretsFiles []string) (*Loader, error) {
	var existing []string
	for _, f := range secretsFiles {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("secrets file %s: %w", f, err)
		}
	}

	secrets := map[string]string{}
	if len(existing) > 0 {
		var err error
		secrets, err = godotenv.Read(existing...)
		if err != nil {
			return nil, fmt.Errorf("reading secrets: %w", err)
		}
	}
	return &Loader{secrets: secrets, lookupEnv: os.LookupEnv}, nil
}

func isDefinitionFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}

// LoadAll recursively scans directories for *.yaml, *.yml and *.json files
// in lexical order and merges them. Directories that do not exist are
// skipped.
func (l *Loader) LoadAll(directories []string) (Loaded, error) {
	var out Loaded

	for _, dir := range directories {
		if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !isDefinitionFile(path) {
				return nil
			}

			defs, src, warnings, err := l.LoadFile(path)
			if err != nil {
				return err
			}
			out.Definitions.Connectors = append(out.Definitions.Connectors, defs.Connectors...)
			out.Definitions.Workflows = append(out.Definitions.Workflows, defs.Workflows...)
			out.Sources = append(out.Sources, src)
			out.Warnings = append(out.Warnings, warnings...)
			return nil
		})
		if err != nil {
			return Loaded{}, fmt.Errorf("scanning directory %s: %w", dir, err)
		}
	}

	out.Checksum = combinedChecksum(out.Sources)
	return out, nil
}

// LoadFile loads and parses a single definition file and computes its
// SHA-256 checksum.
func (l *Loader) LoadFile(path string) (model.Definitions, Source, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Definitions{}, Source{}, nil, fmt.Errorf("reading %s: %w", path, err)
	}

	defs, warnings, err := l.Parse(data)
	if err != nil {
		return model.Definitions{}, Source{}, nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	for i := range warnings {
		warnings[i] = path + ": " + warnings[i]
	}

	src := Source{Path: path, Checksum: fmt.Sprintf("%x", sha256.Sum256(data))}
	return defs, src, warnings, nil
}

// Parse decodes a YAML or JSON document. References inside scalar values are
// expanded before the document is decoded. A plain value that is exactly one
// reference takes the type of what it expands to, so typed fields such as
// retries, priority or enabled accept references. Inside free-form maps
// (params, variables, headers, env) and in mixed text the result stays a
// string.
func (l *Loader) Parse(data []byte) (model.Definitions, []string, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return model.Definitions{}, nil, err
	}
	var defs model.Definitions
	if root.Kind == 0 {
		return defs, nil, nil
	}

	var warnings []string
	l.expand(&root, false, &warnings)

	if err := root.Decode(&defs); err != nil {
		return model.Definitions{}, nil, err
	}
	return defs, warnings, nil
}

// freeFormKeys name maps whose values are passed through untyped.
var freeFormKeys = map[string]bool{
	"params":    true,
	"variables": true,
	"headers":   true,
	"env":       true,
}

// expand rewrites references in every scalar value below n. Mapping keys are
// left alone.
func (l *Loader) expand(n *yaml.Node, freeForm bool, warnings *[]string) {
	switch n.Kind {
	case yaml.ScalarNode:
		if !strings.Contains(n.Value, "${") {
			return
		}
		whole := n.Style == 0 && referencePattern.FindString(n.Value) == n.Value
		n.Value = referencePattern.ReplaceAllStringFunc(n.Value, func(ref string) string {
			m := referencePattern.FindStringSubmatch(ref)
			v, ok := l.resolve(m[1], m[2])
			if !ok {
				*warnings = append(*warnings, fmt.Sprintf("line %d: %s is not set", n.Line, ref))
			}
			return v
		})
		if whole && !freeForm {
			if tag := scalarTag(n.Value); tag != "" {
				n.Tag = tag
				return
			}
		}
		n.Tag = "!!str"
		n.Style = yaml.DoubleQuotedStyle
	case yaml.MappingNode:
		for i := 1; i < len(n.Content); i += 2 {
			l.expand(n.Content[i], freeForm || freeFormKeys[n.Content[i-1].Value], warnings)
		}
	default:
		for _, c := range n.Content {
			l.expand(c, freeForm, warnings)
		}
	}
}

// scalarTag returns the int, float or bool tag YAML would give v as a plain
// scalar, or "" for anything else.
func scalarTag(v string) string {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(v), &doc); err != nil || len(doc.Content) != 1 {
		return ""
	}
	n := doc.Content[0]
	if n.Kind != yaml.ScalarNode || n.Value != v {
		return ""
	}
	switch tag := n.ShortTag(); tag {
	case "!!int", "!!float", "!!bool":
		return tag
	}
	return ""
}

func (l *Loader) resolve(kind, name string) (string, bool) {
	if kind == "secret" {
		if v, ok := l.secrets[name]; ok {
			return v, true
		}
	}
	return l.lookupEnv(name)
}

// combinedChecksum hashes the sorted per-file checksums.
func combinedChecksum(sources []Source) string {
	parts := make([]string, len(sources))
	for i, s := range sources {
		parts[i] = s.Checksum
	}
	sort.Strings(parts)
	return fmt.Sprintf("%x", sha256.Sum256([]byte(strings.Join(parts, ":"))))
}
