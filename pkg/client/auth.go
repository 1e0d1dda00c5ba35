package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

var (
	// ErrNoToken is returned when a provider has no token to offer.
	ErrNoToken = errors.New("no bearer token available")

	// ErrTokenExpired is returned when the only available token has expired.
	ErrTokenExpired = errors.New("bearer token has expired")
)

// TokenProvider supplies the bearer token sent with every request.
// Implementations must be safe for concurrent use; they may block to load
// or refresh a token.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// TokenProviderFunc adapts a function to TokenProvider.
type TokenProviderFunc func(ctx context.Context) (string, error)

// Token calls f.
func (f TokenProviderFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

// StaticToken is a fixed bearer token.
type StaticToken string

// Token returns the token, or ErrNoToken when empty.
func (t StaticToken) Token(context.Context) (string, error) {
	if t == "" {
		return "", ErrNoToken
	}
	return string(t), nil
}

// OAuth2TokenProvider reads tokens from an oauth2.TokenSource.
type OAuth2TokenProvider struct {
	source oauth2.TokenSource
}

// NewOAuth2TokenProvider wraps src so that valid tokens are reused between
// requests.
func NewOAuth2TokenProvider(src oauth2.TokenSource) *OAuth2TokenProvider {
	return &OAuth2TokenProvider{source: oauth2.ReuseTokenSource(nil, src)}
}

// Token returns the current access token.
func (p *OAuth2TokenProvider) Token(context.Context) (string, error) {
	tok, err := p.source.Token()
	if err != nil {
		return "", err
	}
	if !tok.Valid() {
		return "", ErrTokenExpired
	}
	return tok.AccessToken, nil
}

// TokenFile holds a saved authentication token.
type TokenFile struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Server    string    `json:"server"`
	Username  string    `json:"username"`
}

// Expiry returns when the token expires. ExpiresAt wins; otherwise the exp
// claim is read from the token when it is a JWT.
func (t *TokenFile) Expiry() (time.Time, bool) {
	if !t.ExpiresAt.IsZero() {
		return t.ExpiresAt, true
	}
	return TokenExpiry(t.Token)
}

// IsExpired returns true if the token has expired (with optional margin).
// Tokens with no known expiry never expire.
func (t *TokenFile) IsExpired(margin time.Duration) bool {
	exp, ok := t.Expiry()
	if !ok {
		return false
	}
	return time.Now().Add(margin).After(exp)
}

// TokenExpiry reads the exp claim of a JWT without verifying its signature.
func TokenExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// TokenFilePath returns the default path for the token file.
func TokenFilePath() string {
	if runtime.GOOS == "windows" {
		appData := os.Getenv("APPDATA")
		if appData == "" {
			home, _ := os.UserHomeDir()
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(appData, "mbyte", "token.json")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "mbyte", "token.json")
}

// SaveToken writes a token file to path.
func SaveToken(path string, tf *TokenFile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(tf, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// LoadToken reads a token file from path.
func LoadToken(path string) (*TokenFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tf TokenFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parse token file: %w", err)
	}
	return &tf, nil
}

// FileTokenProvider serves the token stored in a token file. The file is
// re-read whenever its modification time changes, so an external login or
// refresh tool can rotate the token while requests are in flight.
type FileTokenProvider struct {
	path string

	mu      sync.RWMutex
	cached  *TokenFile
	modTime time.Time
}

// NewFileTokenProvider creates a provider for the token file at path. An
// empty path selects TokenFilePath().
func NewFileTokenProvider(path string) *FileTokenProvider {
	if path == "" {
		path = TokenFilePath()
	}
	return &FileTokenProvider{path: path}
}

// Path returns the token file location.
func (p *FileTokenProvider) Path() string {
	return p.path
}

// Token returns the stored token, or ErrTokenExpired once it has expired.
func (p *FileTokenProvider) Token(context.Context) (string, error) {
	tf, err := p.load()
	if err != nil {
		return "", err
	}
	if tf.Token == "" {
		return "", ErrNoToken
	}
	if tf.IsExpired(0) {
		return "", ErrTokenExpired
	}
	return tf.Token, nil
}

func (p *FileTokenProvider) load() (*TokenFile, error) {
	info, err := os.Stat(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s does not exist", ErrNoToken, p.path)
		}
		return nil, err
	}

	p.mu.RLock()
	if p.cached != nil && info.ModTime().Equal(p.modTime) {
		tf := p.cached
		p.mu.RUnlock()
		return tf, nil
	}
	p.mu.RUnlock()

	tf, err := LoadToken(p.path)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.cached = tf
	p.modTime = info.ModTime()
	p.mu.Unlock()
	return tf, nil
}
