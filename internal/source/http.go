// SPDX-License-Identifier: Apache-2.0

package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/gemaraproj/hca2mtab/internal/config"
)

var nextLink = regexp.MustCompile(`<([^>]+)>;\s*rel="next"`)

// HTTPCatalog reads bundles from a data-store search API.
type HTTPCatalog struct {
	baseURL    string
	client     *http.Client
	perPage    int
	searchPath string
	filesPath  []string
	maxRetries uint64
	discovery  config.DiscoveryConfig
	testTitle  *regexp.Regexp
	newBackOff func() backoff.BackOff
	logger     *zap.Logger
}

// HTTPOption configures an HTTPCatalog.
type HTTPOption func(*HTTPCatalog)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(c *HTTPCatalog) { c.client = client }
}

// WithBackOff replaces the retry policy; f is called once per request.
func WithBackOff(f func() backoff.BackOff) HTTPOption {
	return func(c *HTTPCatalog) { c.newBackOff = f }
}

// NewHTTPCatalog creates a catalog for the API at src.URL.
func NewHTTPCatalog(src config.SourceConfig, timeout time.Duration, logger *zap.Logger, opts ...HTTPOption) (*HTTPCatalog, error) {
	if src.URL == "" {
		return nil, fmt.Errorf("source.url is required for the http catalog")
	}
	if len(src.BundleFilesPath) == 0 {
		return nil, fmt.Errorf("source.bundle_files_path is required for the http catalog")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var testTitle *regexp.Regexp
	if p := src.Discovery.TestTitlePattern; p != "" {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("source.discovery.test_title_pattern: %w", err)
		}
		testTitle = re
	}
	c := &HTTPCatalog{
		baseURL:    strings.TrimRight(src.URL, "/"),
		client:     &http.Client{Timeout: timeout},
		perPage:    src.PerPage,
		searchPath: src.ProjectUUIDSearchPath,
		filesPath:  src.BundleFilesPath,
		maxRetries: uint64(src.MaxRetries),
		discovery:  src.Discovery,
		testTitle:  testTitle,
		newBackOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type searchResponse struct {
	Results []map[string]any `json:"results"`
}

// Bundles pages through the search results matching projectUUID.
func (c *HTTPCatalog) Bundles(ctx context.Context, projectUUID string) ([]BundleRef, error) {
	query := map[string]any{
		"bool": map[string]any{
			"must": []any{match(c.searchPath, projectUUID)},
		},
	}
	var out []BundleRef
	err := c.search(ctx, query, func(result map[string]any) error {
		ref, err := c.bundleRef(result)
		if err != nil {
			return &RetrievalError{Project: projectUUID, Message: "malformed search result", Err: err}
		}
		out = append(out, ref)
		return nil
	})
	if err != nil {
		if IsRetrievalError(err) {
			return nil, err
		}
		return nil, &RetrievalError{Project: projectUUID, Message: "bundle search failed", Err: err}
	}
	c.logger.Debug("bundles listed", zap.String("project", projectUUID), zap.Int("bundles", len(out)))
	return out, nil
}

// Projects lists the projects holding bundles of a discoverable technology
// for one of the configured taxa. Projects whose title marks them as test
// submissions are left out. The result keeps first-seen order.
func (c *HTTPCatalog) Projects(ctx context.Context) ([]string, error) {
	d := c.discovery
	if len(d.Technologies) == 0 || len(d.TaxonIDs) == 0 {
		return nil, fmt.Errorf("source.discovery needs technologies and taxon_ids to list projects")
	}
	seen := make(map[string]bool)
	var out []string
	for _, tech := range d.Technologies {
		for _, taxon := range d.TaxonIDs {
			err := c.search(ctx, c.discoveryQuery(tech.Ontology, taxon), func(result map[string]any) error {
				uuid, title, err := c.projectOf(result)
				if err != nil {
					return &RetrievalError{Message: "malformed search result", Err: err}
				}
				if seen[uuid] {
					return nil
				}
				seen[uuid] = true
				if c.testTitle != nil && c.testTitle.MatchString(title) {
					c.logger.Debug("test project skipped", zap.String("project", uuid), zap.String("title", title))
					return nil
				}
				out = append(out, uuid)
				return nil
			})
			if err != nil {
				if IsRetrievalError(err) {
					return nil, err
				}
				return nil, &RetrievalError{
					Message: fmt.Sprintf("project search failed for %s, taxon %d", tech.Name, taxon),
					Err:     err,
				}
			}
		}
	}
	c.logger.Info("projects discovered", zap.Int("projects", len(out)))
	return out, nil
}

// discoveryQuery matches the bundles of one technology and one taxon, leaving
// out analysis bundles and bundles that also carry other taxa.
func (c *HTTPCatalog) discoveryQuery(ontology string, taxon int) map[string]any {
	d := c.discovery
	var mustNot []any
	if d.ProcessTypeField != "" && d.ExcludeProcessType != "" {
		mustNot = append(mustNot, match(d.ProcessTypeField, d.ExcludeProcessType))
	}
	mustNot = append(mustNot,
		map[string]any{"range": map[string]any{d.TaxonField: map[string]any{"lt": taxon}}},
		map[string]any{"range": map[string]any{d.TaxonField: map[string]any{"gt": taxon}}},
	)
	return map[string]any{
		"bool": map[string]any{
			"must":     []any{match(d.TechnologyField, ontology), match(d.TaxonField, taxon)},
			"must_not": mustNot,
		},
	}
}

func (c *HTTPCatalog) projectOf(result map[string]any) (string, string, error) {
	d := c.discovery
	node := lookup(result, d.ProjectPath)
	if list, ok := node.([]any); ok {
		if len(list) == 0 {
			node = nil
		} else {
			node = list[0]
		}
	}
	if node == nil {
		return "", "", fmt.Errorf("result has no %s", strings.Join(d.ProjectPath, "."))
	}
	uuid, _ := lookup(node, d.ProjectUUIDPath).(string)
	if uuid == "" {
		return "", "", fmt.Errorf("project document has no %s", strings.Join(d.ProjectUUIDPath, "."))
	}
	title, _ := lookup(node, d.ProjectTitlePath).(string)
	return uuid, title, nil
}

// search posts query to the search endpoint and hands every result to visit,
// following the next links until the last page.
func (c *HTTPCatalog) search(ctx context.Context, query map[string]any, visit func(map[string]any) error) error {
	payload, err := json.Marshal(map[string]any{"es_query": map[string]any{"query": query}})
	if err != nil {
		return fmt.Errorf("failed to encode search query: %w", err)
	}
	url := fmt.Sprintf("%s/search?output_format=raw&replica=aws&per_page=%d", c.baseURL, c.perPage)
	for url != "" {
		body, header, err := c.do(ctx, http.MethodPost, url, payload)
		if err != nil {
			return err
		}
		var page searchResponse
		if err := json.Unmarshal(body, &page); err != nil {
			return fmt.Errorf("failed to decode search results: %w", err)
		}
		for _, result := range page.Results {
			if err := visit(result); err != nil {
				return err
			}
		}
		c.logger.Debug("search page retrieved", zap.String("url", url), zap.Int("results", len(page.Results)))

		url = ""
		if m := nextLink.FindStringSubmatch(header.Get("Link")); m != nil {
			url = m[1]
		}
	}
	return nil
}

func match(field string, value any) map[string]any {
	return map[string]any{"match": map[string]any{field: value}}
}

func lookup(node any, path []string) any {
	for _, key := range path {
		obj, ok := node.(map[string]any)
		if !ok {
			return nil
		}
		node = obj[key]
	}
	return node
}

func (c *HTTPCatalog) bundleRef(result map[string]any) (BundleRef, error) {
	url, _ := result["bundle_url"].(string)
	if url == "" {
		return BundleRef{}, fmt.Errorf("result has no bundle_url")
	}
	files, ok := lookup(result, c.filesPath).([]any)
	if !ok {
		return BundleRef{}, fmt.Errorf("bundle %s: %s is not a list", url, strings.Join(c.filesPath, "."))
	}
	ref := BundleRef{URL: url}
	for _, f := range files {
		obj, ok := f.(map[string]any)
		if !ok {
			continue
		}
		uuid, _ := obj["uuid"].(string)
		name, _ := obj["name"].(string)
		ref.Files = append(ref.Files, FileRef{UUID: uuid, Name: name})
	}
	return ref, nil
}

// Document fetches one metadata document.
func (c *HTTPCatalog) Document(ctx context.Context, fileUUID string) ([]byte, error) {
	body, _, err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/files/%s?replica=aws", c.baseURL, fileUUID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch document %s: %w", fileUUID, err)
	}
	return body, nil
}

// do sends one request, retrying transport errors and 5xx responses.
func (c *HTTPCatalog) do(ctx context.Context, method, url string, payload []byte) ([]byte, http.Header, error) {
	var (
		body   []byte
		header http.Header
	)
	op := func() error {
		var r io.Reader
		if payload != nil {
			r = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, r)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		switch {
		case resp.StatusCode >= 500:
			return fmt.Errorf("%s %s: %s", method, url, resp.Status)
		case resp.StatusCode >= 400:
			return backoff.Permanent(fmt.Errorf("%s %s: %s", method, url, resp.Status))
		}
		body, header = data, resp.Header
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), c.maxRetries), ctx)
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("retrying catalog request", zap.String("url", url), zap.Duration("wait", wait), zap.Error(err))
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, nil, err
	}
	return body, header, nil
}
