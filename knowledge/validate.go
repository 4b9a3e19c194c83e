package knowledge

import (
	"bytes"
	"embed"
	"encoding/json"
	"os"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/teranos/storytest/errors"
)

//go:embed schema/document.schema.json
var schemaFS embed.FS

var (
	documentSchema *jsonschema.Schema
	compileOnce    sync.Once
	compileErr     error
)

func compileSchema() error {
	compileOnce.Do(func() {
		data, err := schemaFS.ReadFile("schema/document.schema.json")
		if err != nil {
			compileErr = errors.Wrap(err, "read document schema")
			return
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
		if err != nil {
			compileErr = errors.Wrap(err, "unmarshal document schema")
			return
		}

		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("document.schema.json", doc); err != nil {
			compileErr = errors.Wrap(err, "add document schema resource")
			return
		}
		if documentSchema, err = compiler.Compile("document.schema.json"); err != nil {
			compileErr = errors.Wrap(err, "compile document schema")
		}
	})
	return compileErr
}

// FileReport is the validation outcome for one document
type FileReport struct {
	Path     string   `json:"path"`
	Valid    bool     `json:"valid"`
	Problems []string `json:"problems,omitempty"`
}

// Report summarises a directory validation
type Report struct {
	Dir   string       `json:"dir"`
	Files []FileReport `json:"files"`
}

// ValidCount returns how many files passed
func (r *Report) ValidCount() int {
	n := 0
	for _, f := range r.Files {
		if f.Valid {
			n++
		}
	}
	return n
}

// ValidateDir checks every document in dir
func ValidateDir(dir string) (*Report, error) {
	files, err := ListFiles(dir)
	if err != nil {
		return nil, err
	}
	report := &Report{Dir: dir, Files: make([]FileReport, 0, len(files))}
	for _, path := range files {
		report.Files = append(report.Files, ValidateFile(path))
	}
	return report, nil
}

// ValidateFile checks one document for the required fields, non-empty keyword
// and sample lists, and complete sample steps
func ValidateFile(path string) FileReport {
	report := FileReport{Path: path}

	problems, err := validateFile(path)
	if err != nil {
		report.Problems = []string{err.Error()}
		return report
	}
	report.Problems = problems
	report.Valid = len(problems) == 0
	return report
}

func validateFile(path string) ([]string, error) {
	if err := compileSchema(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}
	generic, err := decodeGeneric(path, data)
	if err != nil {
		return nil, err
	}
	normalized, err := json.Marshal(generic)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: unsupported structure", path)
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(normalized))
	if err != nil {
		return nil, errors.Wrapf(err, "%s: invalid JSON", path)
	}

	if err := documentSchema.Validate(instance); err != nil {
		return problemLines(err), nil
	}
	return nil, nil
}

// problemLines turns a schema validation error into one entry per reported violation
func problemLines(err error) []string {
	var problems []string
	for _, line := range strings.Split(err.Error(), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "- ") {
			continue
		}
		problems = append(problems, strings.TrimPrefix(line, "- "))
	}
	if len(problems) == 0 {
		problems = []string{err.Error()}
	}
	return problems
}
