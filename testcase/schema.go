package testcase

import (
	"bytes"
	"embed"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/teranos/storytest/errors"
)

//go:embed schema/*.json
var schemaFS embed.FS

var (
	caseSchema  *jsonschema.Schema
	listSchema  *jsonschema.Schema
	compileOnce sync.Once
	compileErr  error
)

// compileSchemas compiles the embedded schemas once
func compileSchemas() error {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()

		for _, name := range []string{"testcase.schema.json", "testcases.schema.json"} {
			data, err := schemaFS.ReadFile("schema/" + name)
			if err != nil {
				compileErr = errors.Wrapf(err, "read %s", name)
				return
			}
			doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
			if err != nil {
				compileErr = errors.Wrapf(err, "unmarshal %s", name)
				return
			}
			if err := compiler.AddResource(name, doc); err != nil {
				compileErr = errors.Wrapf(err, "add %s resource", name)
				return
			}
		}

		var err error
		if caseSchema, err = compiler.Compile("testcase.schema.json"); err != nil {
			compileErr = errors.Wrap(err, "compile test case schema")
			return
		}
		if listSchema, err = compiler.Compile("testcases.schema.json"); err != nil {
			compileErr = errors.Wrap(err, "compile test case list schema")
			return
		}
	})
	return compileErr
}

// ValidateJSON checks a canonical test-case list (a JSON array)
func ValidateJSON(data []byte) error {
	return validate(data, func() *jsonschema.Schema { return listSchema }, "test case list")
}

// ValidateCaseJSON checks one canonical test case (a saved case file)
func ValidateCaseJSON(data []byte) error {
	return validate(data, func() *jsonschema.Schema { return caseSchema }, "test case")
}

func validate(data []byte, schema func() *jsonschema.Schema, what string) error {
	if err := compileSchemas(); err != nil {
		return err
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return errors.Wrapf(errors.ErrInvalidRequest, "invalid JSON: %v", err)
	}

	if err := schema().Validate(doc); err != nil {
		return errors.Wrapf(errors.ErrInvalidRequest, "%s validation failed: %v", what, err)
	}
	return nil
}
