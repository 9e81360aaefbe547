package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/nhle/mailgateway/internal/model"
	"github.com/nhle/mailgateway/internal/source"
)

const (
	// SafetyMargin is subtracted from the provider-reported expiry so that
	// tokens are renewed before the API starts rejecting them.
	SafetyMargin = 300 * time.Second

	// defaultLifetime applies when the identity provider omits expires_in.
	defaultLifetime = 3600 * time.Second
)

// Exchanger performs one client-credentials exchange against the identity
// endpoint.
type Exchanger interface {
	Exchange(ctx context.Context) (*oauth2.Token, error)
}

// ClientCredentials is the production Exchanger backed by
// golang.org/x/oauth2/clientcredentials.
type ClientCredentials struct {
	cfg        clientcredentials.Config
	httpClient *http.Client
}

// NewClientCredentials builds an Exchanger for the given tenant settings.
func NewClientCredentials(g model.GraphConfig) *ClientCredentials {
	return &ClientCredentials{
		cfg: clientcredentials.Config{
			ClientID:     g.ClientID,
			ClientSecret: g.ClientSecret,
			TokenURL:     g.TokenURL(),
			Scopes:       []string{g.Scope()},
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Exchange requests a fresh token. Each call hits the identity endpoint;
// caching is the Provider's job.
func (c *ClientCredentials) Exchange(ctx context.Context) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	return c.cfg.Token(ctx)
}

// Provider hands out a cached bearer credential and renews it lazily.
// It is safe for concurrent use.
type Provider struct {
	exchanger Exchanger
	logger    zerolog.Logger
	now       func() time.Time

	mu   sync.Mutex
	cred model.Credential
}

// NewProvider creates a Provider around the given Exchanger.
func NewProvider(ex Exchanger, logger zerolog.Logger) *Provider {
	return &Provider{
		exchanger: ex,
		logger:    logger.With().Str("component", "auth").Logger(),
		now:       time.Now,
	}
}

// SetClock overrides the time source. Intended for tests.
func (p *Provider) SetClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}

// Token returns the cached credential, or performs one exchange when the
// cache is empty or within SafetyMargin of expiry. Nothing is cached on
// failure, so the next call tries again.
func (p *Provider) Token(ctx context.Context) (model.Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if !p.cred.Expired(now, SafetyMargin) {
		return p.cred, nil
	}

	tok, err := p.exchanger.Exchange(ctx)
	if err != nil {
		p.cred = model.Credential{}
		return model.Credential{}, toAuthError(err)
	}
	if tok == nil || tok.AccessToken == "" {
		p.cred = model.Credential{}
		return model.Credential{}, &source.AuthError{
			Message: "token response did not contain an access token",
		}
	}

	expiresAt := tok.Expiry
	if expiresAt.IsZero() {
		expiresAt = now.Add(defaultLifetime)
	}

	p.cred = model.Credential{Token: tok.AccessToken, ExpiresAt: expiresAt}
	p.logger.Debug().
		Time("expires_at", expiresAt).
		Msg("acquired access token")

	return p.cred, nil
}

// Invalidate drops the cached credential so the next Token call performs a
// fresh exchange. Used after the API rejects a token with 401.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cred = model.Credential{}
}

func toAuthError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		msg := retrieveErr.ErrorDescription
		if msg == "" {
			msg = fmt.Sprintf("token endpoint returned %d", statusOf(retrieveErr))
		}
		return &source.AuthError{
			Code:    retrieveErr.ErrorCode,
			Message: msg,
			Err:     err,
		}
	}
	return &source.AuthError{
		Message: fmt.Sprintf("token exchange failed: %v", err),
		Err:     err,
	}
}

func statusOf(e *oauth2.RetrieveError) int {
	if e.Response == nil {
		return 0
	}
	return e.Response.StatusCode
}
