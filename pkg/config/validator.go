package config

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ValidationError lists every schema violation found in a document
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "configuration file is not valid: " + strings.Join(e.Problems, "; ")
}

// ValidateDocument validates a JSON document against the configuration schema
func ValidateDocument(document []byte) error {
	schemaLoader := gojsonschema.NewStringLoader(Schema)
	documentLoader := gojsonschema.NewBytesLoader(document)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("failed to validate schema: %w", err)
	}

	if !result.Valid() {
		verr := &ValidationError{}
		for _, desc := range result.Errors() {
			verr.Problems = append(verr.Problems, desc.String())
		}
		return verr
	}

	return nil
}

// Validate validates a configuration file (JSON or YAML) against the schema
func Validate(configFile string) error {
	document, err := readDocument(configFile)
	if err != nil {
		return err
	}
	return ValidateDocument(document)
}
