// SPDX-License-Identifier: Apache-2.0

package config

import (
	_ "embed"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/goccy/go-yaml"
)

//go:embed schema.cue
var schemaSource string

// ValidateSchema checks a YAML configuration document against the embedded CUE
// definition #Config. Unknown keys and mistyped values are rejected here, before
// the document is decoded into Config.
func ValidateSchema(data []byte) error {
	js, err := yaml.YAMLToJSON(data)
	if err != nil {
		return fmt.Errorf("failed to convert config to JSON: %w", err)
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("failed to compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))
	if err := def.Err(); err != nil {
		return fmt.Errorf("config schema has no #Config definition: %w", err)
	}

	value := ctx.CompileBytes(js, cue.Filename("config.json"))
	if err := value.Err(); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := def.Unify(value).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
