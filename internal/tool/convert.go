// SPDX-License-Identifier: Apache-2.0

// Package tool exposes the converter as MCP tools.
package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/gemaraproj/hca2mtab/internal/magetab"
	"github.com/gemaraproj/hca2mtab/internal/source"
	"github.com/gemaraproj/hca2mtab/internal/writer"
)

// MetadataConvertHCABundles describes the convert_hca_bundles tool.
var MetadataConvertHCABundles = &mcp.Tool{
	Name: "convert_hca_bundles",
	Description: "Convert the metadata bundles of one HCA project into MAGE-TAB. " +
		"Each bundle lists its JSON documents grouped by schema type (project, donor_organism, " +
		"cell_suspension, sequence_file, protocol types). The result holds one SDRF and one IDF " +
		"text per sequencing technology found in the bundles, tab-delimited as they would be written to disk.",
	InputSchema: map[string]interface{}{
		"type":     "object",
		"required": []string{"accession", "bundles"},
		"properties": map[string]interface{}{
			"accession": map[string]interface{}{
				"type":        "string",
				"description": "Accession of the experiment, e.g. E-HCAD-1 or a candidate accession E-CAND-1",
			},
			"project_uuid": map[string]interface{}{
				"type":        "string",
				"description": "Optional HCA project uuid, used in diagnostics.",
			},
			"bundles": map[string]interface{}{
				"type":        "array",
				"description": "Bundles of the project, in the order they should be translated.",
				"items": map[string]interface{}{
					"type":     "object",
					"required": []string{"documents"},
					"properties": map[string]interface{}{
						"bundle_url": map[string]interface{}{
							"type":        "string",
							"description": "URL of the bundle, written to the bundle url column.",
						},
						"documents": map[string]interface{}{
							"type":        "object",
							"description": "Schema type name to the list of JSON documents of that type.",
							"additionalProperties": map[string]interface{}{
								"type":  "array",
								"items": map[string]interface{}{"type": "object"},
							},
						},
					},
				},
			},
		},
	},
}

// InputBundle is one bundle of the ConvertHCABundles input.
type InputBundle struct {
	URL string `json:"bundle_url"`
	// Documents are kept undecoded so numbers reach the loader as written.
	Documents map[string][]json.RawMessage `json:"documents"`
}

// InputConvertHCABundles is the input for the ConvertHCABundles tool.
type InputConvertHCABundles struct {
	Accession   string        `json:"accession"`
	ProjectUUID string        `json:"project_uuid"`
	Bundles     []InputBundle `json:"bundles"`
}

// OutputTechnology is the MAGE-TAB of one technology.
type OutputTechnology struct {
	Technology string `json:"technology"`
	SDRFFile   string `json:"sdrf_file"`
	IDFFile    string `json:"idf_file"`
	SDRF       string `json:"sdrf"`
	IDF        string `json:"idf"`
}

// OutputConvertHCABundles is the output for the ConvertHCABundles tool.
type OutputConvertHCABundles struct {
	Technologies []OutputTechnology `json:"technologies"`
	// Bundles is the number of bundles translated; analysis bundles are skipped.
	Bundles  int      `json:"bundles"`
	Warnings []string `json:"warnings,omitempty"`
}

// Converter runs the translation engine for tool calls.
type Converter struct {
	engine *magetab.Engine
	logger *zap.Logger
}

// NewConverter creates a Converter around engine.
func NewConverter(engine *magetab.Engine, logger *zap.Logger) *Converter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Converter{engine: engine, logger: logger}
}

// Register adds the converter's tools to server.
func (c *Converter) Register(server *mcp.Server) {
	mcp.AddTool(server, MetadataConvertHCABundles, c.ConvertHCABundles)
}

// ConvertHCABundles loads the inline bundles through the same checks as a
// catalog run and translates them.
func (c *Converter) ConvertHCABundles(ctx context.Context, _ *mcp.CallToolRequest, input InputConvertHCABundles) (*mcp.CallToolResult, OutputConvertHCABundles, error) {
	if input.Accession == "" {
		return nil, OutputConvertHCABundles{}, fmt.Errorf("accession is required")
	}
	if len(input.Bundles) == 0 {
		return nil, OutputConvertHCABundles{}, fmt.Errorf("at least one bundle is required")
	}

	catalog, err := newInlineCatalog(input.Bundles)
	if err != nil {
		return nil, OutputConvertHCABundles{}, err
	}
	loader, err := source.NewLoader(c.engine.Config().Checks, catalog, nil, c.logger)
	if err != nil {
		return nil, OutputConvertHCABundles{}, err
	}
	bundles, err := loader.Load(ctx, input.ProjectUUID)
	if err != nil {
		return nil, OutputConvertHCABundles{}, err
	}
	if len(bundles) == 0 {
		return nil, OutputConvertHCABundles{}, fmt.Errorf("no bundle left to translate after skipping analysis bundles")
	}

	res, err := c.engine.Translate(input.Accession, input.ProjectUUID, bundles)
	if err != nil {
		return nil, OutputConvertHCABundles{}, err
	}
	out := OutputConvertHCABundles{Bundles: res.Bundles, Warnings: res.Warnings}
	for _, tech := range res.Technologies {
		out.Technologies = append(out.Technologies, OutputTechnology{
			Technology: tech.Technology,
			SDRFFile:   tech.SDRFFile,
			IDFFile:    tech.IDFFile,
			SDRF:       writer.SDRF(tech.SDRF),
			IDF:        writer.IDF(tech.IDF),
		})
	}
	return nil, out, nil
}

// inlineCatalog serves tool input as a catalog of one project. Files are
// named <schema>_<n>.json so the loader recovers their schema type.
type inlineCatalog struct {
	refs []source.BundleRef
	docs map[string][]byte
}

func newInlineCatalog(bundles []InputBundle) (*inlineCatalog, error) {
	c := &inlineCatalog{docs: make(map[string][]byte)}
	for i, b := range bundles {
		url := b.URL
		if url == "" {
			url = fmt.Sprintf("bundle-%d", i+1)
		}
		ref := source.BundleRef{URL: url}
		schemas := make([]string, 0, len(b.Documents))
		for schema := range b.Documents {
			schemas = append(schemas, schema)
		}
		sort.Strings(schemas)
		for _, schema := range schemas {
			for n, doc := range b.Documents[schema] {
				if trimmed := bytes.TrimSpace(doc); len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
					return nil, fmt.Errorf("bundle %s: %s document %d is empty", url, schema, n)
				}
				id := fmt.Sprintf("%d/%s/%d", i, schema, n)
				c.docs[id] = doc
				ref.Files = append(ref.Files, source.FileRef{UUID: id, Name: fmt.Sprintf("%s_%d.json", schema, n)})
			}
		}
		c.refs = append(c.refs, ref)
	}
	return c, nil
}

func (c *inlineCatalog) Bundles(context.Context, string) ([]source.BundleRef, error) {
	return c.refs, nil
}

func (c *inlineCatalog) Document(_ context.Context, fileUUID string) ([]byte, error) {
	data, ok := c.docs[fileUUID]
	if !ok {
		return nil, fmt.Errorf("document %s not found", fileUUID)
	}
	return data, nil
}
