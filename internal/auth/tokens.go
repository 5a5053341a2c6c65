// Package auth supplies bearer credentials for the sync API from the secret store.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/ledgerkit/devicesync/internal/secrets"
	"github.com/ledgerkit/devicesync/internal/syncerr"
)

// Secret names shared with the sign-in flow
const (
	AccessTokenKey       = "sync_access_token"
	RefreshTokenKey      = "sync_refresh_token"
	AccessTokenExpiryKey = "sync_access_token_expiry"
)

// User-facing credential messages
const (
	MissingAccessTokenMessage = "No access token configured. Please sign in first."
	SessionExpiredMessage     = "Session expired. Please sign in again."
)

// TokenSource reads the access token from the secret store and, when a token
// endpoint is configured, refreshes it with the stored refresh token.
// Refreshed tokens are written back to the store.
type TokenSource struct {
	secrets secrets.Store
	oauth   *oauth2.Config
	ctx     context.Context

	mu sync.Mutex
}

var _ oauth2.TokenSource = (*TokenSource)(nil)

// Option configures a TokenSource
type Option func(*TokenSource)

// WithRefresh enables refreshing through the given OAuth2 client configuration
func WithRefresh(cfg *oauth2.Config) Option {
	return func(s *TokenSource) {
		s.oauth = cfg
	}
}

// WithHTTPClient sets the client used to call the token endpoint
func WithHTTPClient(c *http.Client) Option {
	return func(s *TokenSource) {
		s.ctx = context.WithValue(s.ctx, oauth2.HTTPClient, c)
	}
}

// NewTokenSource creates a TokenSource over store
func NewTokenSource(store secrets.Store, opts ...Option) *TokenSource {
	s := &TokenSource{
		secrets: store,
		ctx:     context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Token returns a usable access token. Missing or rejected credentials are
// reported as auth errors so callers never reach the network without one.
func (s *TokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	access, ok, err := s.secrets.GetSecret(AccessTokenKey)
	if err != nil {
		return nil, syncerr.Auth(fmt.Sprintf("failed to read access token: %v", err))
	}

	tok := &oauth2.Token{
		AccessToken: access,
		TokenType:   "Bearer",
		Expiry:      s.loadExpiry(),
	}

	hasAccess := ok && access != ""
	if s.oauth == nil {
		if !hasAccess {
			return nil, syncerr.Auth(MissingAccessTokenMessage)
		}
		return tok, nil
	}
	if hasAccess && tok.Valid() {
		return tok, nil
	}
	return s.refresh(hasAccess)
}

// SetTokens stores a fresh credential set, as produced by sign-in
func (s *TokenSource) SetTokens(access, refresh string, expiry time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store(&oauth2.Token{AccessToken: access, RefreshToken: refresh, Expiry: expiry})
}

// Clear removes every stored credential
func (s *TokenSource) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, key := range []string{AccessTokenKey, RefreshTokenKey, AccessTokenExpiryKey} {
		if err := s.secrets.DeleteSecret(key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *TokenSource) refresh(hadAccess bool) (*oauth2.Token, error) {
	refresh, ok, err := s.secrets.GetSecret(RefreshTokenKey)
	if err != nil {
		return nil, syncerr.Auth(fmt.Sprintf("failed to read refresh token: %v", err))
	}
	if !ok || refresh == "" {
		if hadAccess {
			return nil, syncerr.Auth(SessionExpiredMessage)
		}
		return nil, syncerr.Auth(MissingAccessTokenMessage)
	}

	tok, err := s.oauth.TokenSource(s.ctx, &oauth2.Token{RefreshToken: refresh}).Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil && re.Response.StatusCode < http.StatusInternalServerError {
			return nil, syncerr.Auth(SessionExpiredMessage)
		}
		return nil, syncerr.Transport(fmt.Errorf("failed to refresh access token: %w", err))
	}

	if tok.RefreshToken == "" {
		tok.RefreshToken = refresh
	}
	if err := s.store(tok); err != nil {
		return nil, syncerr.Auth(fmt.Sprintf("failed to persist refreshed token: %v", err))
	}
	return tok, nil
}

func (s *TokenSource) store(tok *oauth2.Token) error {
	if err := s.secrets.SetSecret(AccessTokenKey, tok.AccessToken); err != nil {
		return err
	}
	if tok.RefreshToken != "" {
		if err := s.secrets.SetSecret(RefreshTokenKey, tok.RefreshToken); err != nil {
			return err
		}
	}
	if tok.Expiry.IsZero() {
		return s.secrets.DeleteSecret(AccessTokenExpiryKey)
	}
	return s.secrets.SetSecret(AccessTokenExpiryKey, tok.Expiry.UTC().Format(time.RFC3339))
}

func (s *TokenSource) loadExpiry() time.Time {
	raw, ok, err := s.secrets.GetSecret(AccessTokenExpiryKey)
	if err != nil || !ok {
		return time.Time{}
	}
	expiry, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return expiry
}
