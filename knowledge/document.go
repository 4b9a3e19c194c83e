// Package knowledge loads domain reference documents and uses them to enrich
// generation prompts. A document is a JSON or YAML file describing a domain,
// its keywords, optional guidelines and a few sample test cases.
package knowledge

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/teranos/storytest/errors"
)

// Extensions lists the file suffixes treated as knowledge documents
var Extensions = []string{".json", ".yaml", ".yml"}

// SampleTest is the part of a reference test the enhancer uses
type SampleTest struct {
	Summary string `json:"summary" yaml:"summary"`
}

// Document is one knowledge-base file
type Document struct {
	Path        string       `json:"-" yaml:"-"`
	Domain      string       `json:"domain" yaml:"domain"`
	Description string       `json:"description" yaml:"description"`
	Guidelines  string       `json:"guidelines,omitempty" yaml:"guidelines,omitempty"`
	Keywords    []string     `json:"keywords" yaml:"keywords"`
	SampleTests []SampleTest `json:"sample_tests" yaml:"sample_tests"`

	// text is the lowercased JSON rendering of the whole file, searched for keywords
	text string
}

// IsDocument reports whether path has a knowledge document extension
func IsDocument(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// ListFiles returns the knowledge documents directly inside dir, sorted
func ListFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(errors.ErrNotFound, "knowledge base directory %s", dir)
		}
		return nil, errors.Wrapf(err, "failed to read knowledge base directory %s", dir)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !IsDocument(entry.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// LoadFile reads one document
func LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}

	generic, err := decodeGeneric(path, data)
	if err != nil {
		return nil, err
	}

	// Re-encode so JSON and YAML documents go through one decoder and one text form
	normalized, err := json.Marshal(generic)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: unsupported structure", path)
	}

	var doc Document
	if err := json.Unmarshal(normalized, &doc); err != nil {
		return nil, errors.Wrapf(err, "%s: invalid document", path)
	}
	doc.Path = path
	doc.text = strings.ToLower(string(normalized))
	return &doc, nil
}

// decodeGeneric parses data by extension into plain maps and slices
func decodeGeneric(path string, data []byte) (interface{}, error) {
	var generic interface{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &generic); err != nil {
			return nil, errors.Wrapf(err, "%s: invalid YAML", path)
		}
	default:
		if err := json.Unmarshal(data, &generic); err != nil {
			return nil, errors.Wrapf(err, "%s: invalid JSON", path)
		}
	}
	if _, ok := generic.(map[string]interface{}); !ok {
		return nil, errors.Newf("%s: top level must be an object", path)
	}
	return generic, nil
}

// DomainOrDefault returns the domain name, or "General" when unset
func (d *Document) DomainOrDefault() string {
	if strings.TrimSpace(d.Domain) == "" {
		return "General"
	}
	return d.Domain
}
