// SPDX-License-Identifier: Apache-2.0

// Package source retrieves the metadata documents of an experiment's bundles
// from a catalog and assembles them into bundle records.
package source

import (
	"context"
	"errors"
	"fmt"
)

// FileRef names one metadata document of a bundle.
type FileRef struct {
	UUID string `json:"uuid"`
	Name string `json:"name"`
}

// BundleRef is a bundle manifest: its URL and the documents it holds, in order.
type BundleRef struct {
	URL   string    `json:"bundle_url"`
	Files []FileRef `json:"files"`
}

// Catalog lists the bundles of a project and serves their documents.
type Catalog interface {
	Bundles(ctx context.Context, projectUUID string) ([]BundleRef, error)
	Document(ctx context.Context, fileUUID string) ([]byte, error)
}

// ProjectLister is implemented by catalogs that can enumerate their projects.
type ProjectLister interface {
	Projects(ctx context.Context) ([]string, error)
}

// RetrievalError reports a failure to obtain, or a violated assumption about,
// the documents of a project.
type RetrievalError struct {
	Project string
	Bundle  string
	Message string
	Err     error
}

func (e *RetrievalError) Error() string {
	msg := e.Message
	if e.Bundle != "" {
		msg = fmt.Sprintf("%s (project %s, bundle %s)", msg, e.Project, e.Bundle)
	} else if e.Project != "" {
		msg = fmt.Sprintf("%s (project %s)", msg, e.Project)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *RetrievalError) Unwrap() error {
	return e.Err
}

// IsRetrievalError reports whether err wraps a *RetrievalError.
func IsRetrievalError(err error) bool {
	var re *RetrievalError
	return errors.As(err, &re)
}
