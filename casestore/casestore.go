// Package casestore keeps generated test cases on disk, one indented JSON
// file per case under a folder named after the story.
package casestore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/teranos/storytest/errors"
	"github.com/teranos/storytest/testcase"
)

const (
	maxFileNameRunes = 100
	filePermissions  = 0o644
	dirPermissions   = 0o755
)

var unsafeChars = regexp.MustCompile(`[^\p{L}\p{N}_\s-]`)

// Store roots case folders under a base directory
type Store struct {
	root string
}

// New returns a store rooted at root
func New(root string) *Store {
	return &Store{root: root}
}

// Root returns the base directory
func (s *Store) Root() string {
	return s.root
}

// Saved pairs a case with the file it was written to
type Saved struct {
	Case testcase.TestCase
	Path string
}

// FolderName derives a directory name from a story title
func FolderName(title string) string {
	return sanitize(title)
}

// FileName derives a file name from a case summary, capped at 100 characters before the extension
func FileName(summary string) string {
	name := sanitize(summary)
	if runes := []rune(name); len(runes) > maxFileNameRunes {
		name = string(runes[:maxFileNameRunes])
	}
	if name == "" {
		name = "test_case"
	}
	return name + ".json"
}

func sanitize(s string) string {
	return strings.ReplaceAll(unsafeChars.ReplaceAllString(s, ""), " ", "_")
}

// Dir returns the folder holding a story's cases
func (s *Store) Dir(storyTitle string) string {
	return filepath.Join(s.root, FolderName(storyTitle))
}

// Save writes each case to its own file. Cases whose names collide get a
// numeric suffix rather than overwriting each other.
func (s *Store) Save(storyTitle string, cases []testcase.TestCase) ([]Saved, error) {
	dir := s.Dir(storyTitle)
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return nil, errors.Wrapf(err, "failed to create %s", dir)
	}

	used := map[string]int{}
	saved := make([]Saved, 0, len(cases))
	for _, tc := range cases {
		name := FileName(tc.Summary)
		used[name]++
		if n := used[name]; n > 1 {
			name = fmt.Sprintf("%s_%d.json", strings.TrimSuffix(name, ".json"), n)
		}

		path := filepath.Join(dir, name)
		if err := writeCase(path, tc); err != nil {
			return saved, err
		}
		saved = append(saved, Saved{Case: tc, Path: path})
	}
	return saved, nil
}

func writeCase(path string, tc testcase.TestCase) error {
	if tc.Steps == nil {
		tc.Steps = []testcase.Step{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(tc); err != nil {
		return errors.Wrapf(err, "failed to encode %q", tc.Summary)
	}
	if err := os.WriteFile(path, buf.Bytes(), filePermissions); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return nil
}

// Load reads every case file in dir in name order. A file may hold a single
// case or a list. Each file is validated against the canonical schema and
// all problems are reported together.
func Load(dir string) ([]testcase.TestCase, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(errors.ErrNotFound, "case directory %s", dir)
		}
		return nil, errors.Wrapf(err, "failed to read %s", dir)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var (
		cases    []testcase.TestCase
		problems []string
	)
	for _, name := range names {
		loaded, err := LoadFile(filepath.Join(dir, name))
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		cases = append(cases, loaded...)
	}

	if len(problems) > 0 {
		return nil, errors.WithDetail(
			errors.Wrapf(errors.ErrInvalidRequest, "%d of %d case files are invalid", len(problems), len(names)),
			strings.Join(problems, "\n"))
	}
	if len(cases) == 0 {
		return nil, errors.Wrapf(errors.ErrNotFound, "no case files in %s", dir)
	}
	return cases, nil
}

// LoadFile reads one case file holding a case or a list of cases
func LoadFile(path string) ([]testcase.TestCase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := testcase.ValidateJSON(trimmed); err != nil {
			return nil, err
		}
		var cases []testcase.TestCase
		if err := json.Unmarshal(trimmed, &cases); err != nil {
			return nil, errors.Wrap(err, "decode")
		}
		return cases, nil
	}

	if err := testcase.ValidateCaseJSON(trimmed); err != nil {
		return nil, err
	}
	var tc testcase.TestCase
	if err := json.Unmarshal(trimmed, &tc); err != nil {
		return nil, errors.Wrap(err, "decode")
	}
	return []testcase.TestCase{tc}, nil
}
