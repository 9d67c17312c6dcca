package config

import (
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/stacklok/vgateway/pkg/vgerrors"
)

// envRefPattern matches only the braced ${NAME} form (spec.md §6); bare
// $NAME is left untouched since header values and glob patterns may
// legitimately contain a literal '$'.
var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnv substitutes every ${NAME} occurrence in s with the value of
// the environment variable NAME. An unset variable expands to "".
func ExpandEnv(s string) string {
	return envRefPattern.ReplaceAllStringFunc(s, func(ref string) string {
		name := envRefPattern.FindStringSubmatch(ref)[1]
		return os.Getenv(name)
	})
}

// LoadFile reads and parses a YAML configuration document from path.
// Environment substitution happens on the raw bytes before parsing, so it
// applies uniformly to header values, secrets, and backend env entries
// regardless of where in the document tree they sit.
func LoadFile(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, vgerrors.NewConfigurationError("reading config file "+path, err)
	}
	return Parse(raw)
}

// Parse parses raw YAML bytes into a Document, applying ${NAME}
// environment substitution first.
func Parse(raw []byte) (*Document, error) {
	expanded := ExpandEnv(string(raw))

	var doc Document
	if err := yaml.Unmarshal([]byte(expanded), &doc); err != nil {
		return nil, vgerrors.NewConfigurationError("parsing config document", err)
	}
	return &doc, nil
}
