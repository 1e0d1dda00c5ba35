// Package client provides typed access to a remote content store: node
// lookup, children pagination, path resolution, content transfer, search,
// peers and runtime status.
//
// Every operation is a single request. Nothing is cached and nothing is
// retried; wrap calls with pkg/retry when a retry policy is wanted.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/storeclient/pkg/models"
	"github.com/fruitsalade/storeclient/pkg/protocol"
)

// DefaultUserAgent is sent when Config.UserAgent is empty.
const DefaultUserAgent = "mbyte-storeclient/1.0"

// maxJSONBody bounds the size of a decoded JSON response.
const maxJSONBody = 32 << 20

// Config holds client configuration.
type Config struct {
	// BaseURLOverride wins over every other way of locating the store.
	BaseURLOverride string
	// BaseURL is the statically configured store URL.
	BaseURL string
	// Locator is used to compute the store URL when neither of the above
	// is set.
	Locator      *Locator
	StoresDomain string
	StoresScheme string

	Tokens     TokenProvider
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *zap.Logger
	UserAgent  string
}

// Client is the store API. It is safe for concurrent use.
type Client struct {
	baseURL   string
	transport *Transport
	logger    *zap.Logger
}

// New creates a new client. A client without any base URL is still
// returned; its operations fail with ErrNotConfigured. A blank locator
// username is rejected with ErrInvalidLocator.
func New(cfg Config) (*Client, error) {
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("client: token provider is required")
	}

	baseURL, err := SelectBaseURL(cfg.BaseURLOverride, cfg.BaseURL, cfg.Locator, cfg.StoresDomain, cfg.StoresScheme)
	if err != nil {
		return nil, err
	}
	if baseURL != "" {
		if _, err := buildURL(baseURL, "/", nil); err != nil {
			return nil, err
		}
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	return &Client{
		baseURL:   baseURL,
		transport: NewTransport(httpClient, cfg.Tokens, logger, userAgent),
		logger:    logger,
	}, nil
}

// IsConfigured reports whether a base URL is available.
func (c *Client) IsConfigured() bool {
	return c.baseURL != ""
}

// BaseURL returns the resolved store base URL, or "" when unconfigured.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) do(ctx context.Context, req *Request) (*http.Response, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}
	return c.transport.Do(ctx, c.baseURL, req)
}

// getJSON performs a GET and returns the raw body.
func (c *Client) getJSON(ctx context.Context, op, path string, query url.Values) ([]byte, error) {
	resp, err := c.do(ctx, &Request{
		Operation: op,
		Method:    http.MethodGet,
		Path:      path,
		Query:     query,
		Header:    http.Header{"Accept": []string{"application/json"}},
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxJSONBody))
	if err != nil {
		return nil, &NetworkError{Method: http.MethodGet, URL: resp.Request.URL.String(), Err: err}
	}
	return data, nil
}

func nodePath(id string, suffix ...string) string {
	p := protocol.PathNodes + "/" + escapeSegment(id)
	for _, s := range suffix {
		p += "/" + escapeSegment(s)
	}
	return p
}

// escapeSegment escapes s for use as a single path segment. Dot segments are
// percent-encoded so URL resolution cannot collapse them.
func escapeSegment(s string) string {
	switch s {
	case ".":
		return "%2E"
	case "..":
		return "%2E%2E"
	}
	return url.PathEscape(s)
}

// Health is the decoded health probe payload. JSON is set when the body
// parsed as JSON; otherwise Text holds the raw body.
type Health struct {
	JSON any
	Text string
}

// GetHealth calls the health probe.
func (c *Client) GetHealth(ctx context.Context) (*Health, error) {
	data, err := c.getJSON(ctx, "getHealth", protocol.PathHealth, nil)
	if err != nil {
		return nil, fmt.Errorf("health: %w", err)
	}

	h := &Health{Text: string(data)}
	var v any
	if json.Unmarshal(data, &v) == nil {
		h.JSON = v
	}
	return h, nil
}

// GetRoot returns the root node. The server answers with a redirect to the
// root id, which is followed.
func (c *Client) GetRoot(ctx context.Context) (*models.Node, error) {
	c.logger.Debug("get root", zap.String("base_url", c.baseURL))
	data, err := c.getJSON(ctx, "getRoot", protocol.PathNodes, nil)
	if err != nil {
		return nil, fmt.Errorf("get root: %w", err)
	}
	n, err := models.DecodeNode(data)
	if err != nil {
		return nil, fmt.Errorf("get root: %w", err)
	}
	return n, nil
}

// GetNode returns the node with the given id. A missing node yields an
// error matching ErrNotFound.
func (c *Client) GetNode(ctx context.Context, id string) (*models.Node, error) {
	c.logger.Debug("get node", zap.String("id", id))
	data, err := c.getJSON(ctx, "getNode", nodePath(id), nil)
	if err != nil {
		return nil, fmt.Errorf("get node %s: %w", id, err)
	}
	n, err := models.DecodeNode(data)
	if err != nil {
		return nil, fmt.Errorf("get node %s: %w", id, err)
	}
	return n, nil
}

// ListChildren returns one page of the children of folder id. A limit of
// zero or less selects the server default of 20; a negative offset is
// treated as zero.
func (c *Client) ListChildren(ctx context.Context, id string, limit, offset int) (*models.Collection[*models.Node], error) {
	if limit <= 0 {
		limit = protocol.DefaultChildrenLimit
	}
	if offset < 0 {
		offset = 0
	}
	c.logger.Debug("list children", zap.String("id", id), zap.Int("limit", limit), zap.Int("offset", offset))

	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	data, err := c.getJSON(ctx, "listChildren", nodePath(id, "children"), q)
	if err != nil {
		return nil, fmt.Errorf("list children of %s: %w", id, err)
	}
	coll, err := models.DecodeNodeCollection(data)
	if err != nil {
		return nil, fmt.Errorf("list children of %s: %w", id, err)
	}
	return coll, nil
}

// GetPath returns the ancestors of id, root first, ending with the node
// itself.
func (c *Client) GetPath(ctx context.Context, id string) ([]*models.Node, error) {
	c.logger.Debug("get path", zap.String("id", id))
	data, err := c.getJSON(ctx, "getPath", nodePath(id, "path"), nil)
	if err != nil {
		return nil, fmt.Errorf("get path of %s: %w", id, err)
	}
	nodes, err := models.DecodeNodes(data)
	if err != nil {
		return nil, fmt.Errorf("get path of %s: %w", id, err)
	}
	return nodes, nil
}

// Content returns the raw content response of file id. When download is
// true the server marks the content as an attachment. The caller must close
// the response body.
func (c *Client) Content(ctx context.Context, id string, download bool) (*http.Response, error) {
	c.logger.Debug("content", zap.String("id", id), zap.Bool("download", download))
	var q url.Values
	if download {
		q = url.Values{"download": []string{"true"}}
	}
	resp, err := c.do(ctx, &Request{
		Operation: "content",
		Method:    http.MethodGet,
		Path:      nodePath(id, "content"),
		Query:     q,
	})
	if err != nil {
		return nil, fmt.Errorf("content of %s: %w", id, err)
	}
	resp.Body = &countingBody{ReadCloser: resp.Body}
	return resp, nil
}

// Create adds a child named name under parentID. With a file payload a file
// is uploaded as multipart (fields name and data); without one an empty
// folder is created. It returns the Location of the new node, or nil when
// the server sent none.
func (c *Client) Create(ctx context.Context, parentID, name string, file *FilePayload) (*string, error) {
	c.logger.Debug("create", zap.String("parent", parentID), zap.String("name", name), zap.Bool("file", file != nil))

	req := &Request{
		Operation: "create",
		Method:    http.MethodPost,
		Path:      nodePath(parentID),
		Header:    http.Header{},
	}
	if file != nil {
		body, contentType, err := multipartBody(name, file)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", name, err)
		}
		req.Body = body
		req.ContentLength = int64(body.Len())
		req.Header.Set("Content-Type", contentType)
	} else {
		data, err := json.Marshal(protocol.CreateFolderRequest{Name: name})
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", name, err)
		}
		req.Body = bytes.NewReader(data)
		req.ContentLength = int64(len(data))
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", name, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	location := resp.Header.Get("Location")
	if location == "" {
		return nil, nil
	}
	return &location, nil
}

// Update uploads a new version of the file name under parentID. Version
// history is kept by the server.
func (c *Client) Update(ctx context.Context, parentID, name string, file *FilePayload) error {
	if file == nil {
		return fmt.Errorf("update %s: file payload is required", name)
	}
	c.logger.Debug("update", zap.String("parent", parentID), zap.String("name", name))

	payload := *file
	if payload.Filename == "" {
		payload.Filename = name
	}
	body, contentType, err := multipartBody("", &payload)
	if err != nil {
		return fmt.Errorf("update %s: %w", name, err)
	}

	resp, err := c.do(ctx, &Request{
		Operation:     "update",
		Method:        http.MethodPut,
		Path:          nodePath(parentID, name),
		Header:        http.Header{"Content-Type": []string{contentType}},
		Body:          body,
		ContentLength: int64(body.Len()),
	})
	if err != nil {
		return fmt.Errorf("update %s: %w", name, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Delete removes the child name under parentID.
func (c *Client) Delete(ctx context.Context, parentID, name string) error {
	c.logger.Debug("delete", zap.String("parent", parentID), zap.String("name", name))
	resp, err := c.do(ctx, &Request{
		Operation: "delete",
		Method:    http.MethodDelete,
		Path:      nodePath(parentID, name),
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// GetNeighbours returns the peers known to the store.
func (c *Client) GetNeighbours(ctx context.Context) ([]models.Neighbour, error) {
	data, err := c.getJSON(ctx, "getNeighbours", protocol.PathNetwork, nil)
	if err != nil {
		return nil, fmt.Errorf("network: %w", err)
	}
	list, err := models.DecodeNeighbours(data)
	if err != nil {
		return nil, fmt.Errorf("network: %w", err)
	}
	return list, nil
}

// GetStatus returns the runtime status of the store.
func (c *Client) GetStatus(ctx context.Context) (*models.Status, error) {
	data, err := c.getJSON(ctx, "getStatus", protocol.PathStatus, nil)
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	s, err := models.DecodeStatus(data)
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	return s, nil
}

// Search runs a query. It returns an empty, non-nil slice when nothing
// matches.
func (c *Client) Search(ctx context.Context, query string) ([]models.SearchResult, error) {
	c.logger.Debug("search", zap.String("q", query))
	data, err := c.getJSON(ctx, "search", protocol.PathSearch, url.Values{"q": []string{query}})
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	results, err := models.DecodeSearchResults(data)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	return results, nil
}
