// SPDX-License-Identifier: Apache-2.0

package source

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DirCatalog serves a catalog laid out on disk:
//
//	<root>/bundles/<project uuid>/<bundle>.json   bundle manifests
//	<root>/files/<file uuid>.json                 metadata documents
type DirCatalog struct {
	Root string
}

// NewDirCatalog returns a catalog rooted at root.
func NewDirCatalog(root string) *DirCatalog {
	return &DirCatalog{Root: root}
}

// Projects lists the project directories, sorted.
func (d *DirCatalog) Projects(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(d.Root, "bundles"))
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// Bundles reads the project's manifests in file-name order.
func (d *DirCatalog) Bundles(ctx context.Context, projectUUID string) ([]BundleRef, error) {
	dir := filepath.Join(d.Root, "bundles", projectUUID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &RetrievalError{Project: projectUUID, Message: "failed to list bundles", Err: err}
	}
	var out []BundleRef
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, &RetrievalError{Project: projectUUID, Message: "failed to read manifest " + e.Name(), Err: err}
		}
		var ref BundleRef
		if err := json.Unmarshal(data, &ref); err != nil {
			return nil, &RetrievalError{Project: projectUUID, Message: "failed to decode manifest " + e.Name(), Err: err}
		}
		if ref.URL == "" {
			ref.URL = strings.TrimSuffix(e.Name(), ".json")
		}
		out = append(out, ref)
	}
	return out, nil
}

// Document reads <root>/files/<uuid>.json.
func (d *DirCatalog) Document(ctx context.Context, fileUUID string) ([]byte, error) {
	if fileUUID == "" || strings.ContainsAny(fileUUID, `/\`) {
		return nil, fmt.Errorf("invalid file uuid %q", fileUUID)
	}
	data, err := os.ReadFile(filepath.Join(d.Root, "files", fileUUID+".json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read document %s: %w", fileUUID, err)
	}
	return data, nil
}
