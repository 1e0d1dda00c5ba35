package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fruitsalade/storeclient/internal/metrics"
)

// maxErrorBody bounds how much of a rejected response body is kept.
const maxErrorBody = 1 << 20

// Request describes one call through the Transport.
type Request struct {
	Operation string // label used in logs and metrics
	Method    string
	Path      string // relative to the base URL, segments already escaped
	Query     url.Values
	Header    http.Header
	Body      io.Reader
	// ContentLength is the body size when known. Zero lets net/http infer it.
	ContentLength int64
}

// Transport issues authenticated requests against a store. It injects the
// bearer token and turns non-2xx answers into *HTTPError; successful
// responses are returned untouched for the caller to decode.
type Transport struct {
	httpClient *http.Client
	tokens     TokenProvider
	logger     *zap.Logger
	userAgent  string
}

// NewTransport creates a Transport. A nil httpClient selects one with a 30
// second timeout; a nil logger disables logging.
func NewTransport(httpClient *http.Client, tokens TokenProvider, logger *zap.Logger, userAgent string) *Transport {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transport{
		httpClient: httpClient,
		tokens:     tokens,
		logger:     logger,
		userAgent:  userAgent,
	}
}

// Do sends req to baseURL. The response body must be closed by the caller.
// Failures are one of *TokenError, *NetworkError or *HTTPError; nothing is
// retried.
func (t *Transport) Do(ctx context.Context, baseURL string, req *Request) (*http.Response, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, ErrNotConfigured
	}
	if req == nil || req.Method == "" {
		return nil, errors.New("client: request method is required")
	}

	fullURL, err := buildURL(baseURL, req.Path, req.Query)
	if err != nil {
		return nil, err
	}

	if t.tokens == nil {
		return nil, &TokenError{Err: ErrNoToken}
	}
	token, err := t.tokens.Token(ctx)
	if err != nil {
		metrics.RecordRequestError(req.Operation, string(ClassAuth))
		return nil, &TokenError{Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, fullURL, req.Body)
	if err != nil {
		return nil, err
	}
	if req.Body != nil && req.ContentLength > 0 {
		httpReq.ContentLength = req.ContentLength
	}

	httpReq.Header = mergeHeaders(req.Header, token)
	if httpReq.Header.Get("User-Agent") == "" && t.userAgent != "" {
		httpReq.Header.Set("User-Agent", t.userAgent)
	}
	requestID := httpReq.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
		httpReq.Header.Set("X-Request-ID", requestID)
	}

	log := t.logger.With(
		zap.String("operation", req.Operation),
		zap.String("method", req.Method),
		zap.String("url", fullURL),
		zap.String("request_id", requestID),
	)

	start := time.Now()
	resp, err := t.httpClient.Do(httpReq)
	duration := time.Since(start)
	if err != nil {
		metrics.RecordRequest(req.Operation, req.Method, 0, duration)
		netErr := &NetworkError{Method: req.Method, URL: fullURL, Err: unwrapURLError(err)}
		metrics.RecordRequestError(req.Operation, string(Classify(netErr)))
		log.Debug("store request failed", zap.Duration("duration", duration), zap.Error(err))
		return nil, netErr
	}
	metrics.RecordRequest(req.Operation, req.Method, resp.StatusCode, duration)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		httpErr := readHTTPError(resp)
		metrics.RecordRequestError(req.Operation, string(ClassRejected))
		log.Debug("store request rejected",
			zap.Int("status", resp.StatusCode),
			zap.Duration("duration", duration))
		return nil, httpErr
	}

	log.Debug("store request completed",
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", duration))
	return resp, nil
}

// mergeHeaders copies the caller headers and sets the bearer token. A
// caller-supplied Authorization header is replaced; every other header is
// kept.
func mergeHeaders(src http.Header, token string) http.Header {
	dst := make(http.Header, len(src)+2)
	for k, values := range src {
		vCopy := make([]string, len(values))
		copy(vCopy, values)
		dst[k] = vCopy
	}
	dst.Set("Authorization", "Bearer "+token)
	return dst
}

func buildURL(baseURL, path string, q url.Values) (string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("client: invalid base URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return "", fmt.Errorf("client: invalid base URL %q: scheme and host are required", baseURL)
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	ref, err := url.Parse(path)
	if err != nil {
		return "", err
	}
	if len(q) > 0 {
		ref.RawQuery = q.Encode()
	}
	return base.ResolveReference(ref).String(), nil
}

func readHTTPError(resp *http.Response) *HTTPError {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &HTTPError{
		StatusCode: resp.StatusCode,
		Body:       string(body),
		Header:     resp.Header.Clone(),
	}
}

// unwrapURLError strips the *url.Error layer; NetworkError already carries
// the method and URL.
func unwrapURLError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Err
	}
	return err
}
