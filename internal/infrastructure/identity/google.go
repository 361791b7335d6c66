package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"slateboard/internal/core/ports"
	"slateboard/pkg/cache"
	"slateboard/pkg/circuitbreaker"
	"slateboard/pkg/utils"
)

// GoogleProvider resolves opaque OAuth access tokens against the Google
// userinfo endpoint. Lookups are cached per token and the upstream call
// runs behind a circuit breaker so a provider outage degrades joins
// instead of hammering the endpoint.
type GoogleProvider struct {
	userinfoURL string
	client      *http.Client
	cache       *cache.CacheWithFallback
	cacheTTL    time.Duration
	breaker     *circuitbreaker.CircuitBreaker
	logger      *zap.SugaredLogger
}

type userinfoResponse struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
}

func NewGoogleProvider(userinfoURL string, timeout, cacheTTL time.Duration, logger *zap.SugaredLogger) *GoogleProvider {
	return &GoogleProvider{
		userinfoURL: userinfoURL,
		client:      &http.Client{Timeout: timeout},
		cache:       cache.NewCacheWithFallback(cacheTTL),
		cacheTTL:    cacheTTL,
		breaker:     circuitbreaker.New(circuitbreaker.DefaultConfig()),
		logger:      logger,
	}
}

// Stop releases the cache cleanup goroutine.
func (p *GoogleProvider) Stop() {
	p.cache.Stop()
}

func (p *GoogleProvider) lookup(ctx context.Context, token string) (string, error) {
	var email string
	err := p.breaker.Execute(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userinfoURL, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := p.client.Do(req)
		if err != nil {
			return fmt.Errorf("userinfo request: %w", err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			var info userinfoResponse
			if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
				return fmt.Errorf("decode userinfo: %w", err)
			}
			if info.EmailVerified {
				email = utils.NormalizeEmail(info.Email)
			}
			return nil
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			// Token rejected by the provider: resolves to nothing,
			// not an infrastructure failure.
			return nil
		default:
			return fmt.Errorf("userinfo returned status %d", resp.StatusCode)
		}
	})
	if err != nil {
		return "", err
	}
	return email, nil
}

// verifiedEmail returns the provider-verified email for the token, or ""
// when the provider does not vouch for it. Lookups are cached per token.
func (p *GoogleProvider) verifiedEmail(ctx context.Context, token string) (string, error) {
	value, err := p.cache.GetOrSet(ctx, token, func(ctx context.Context) (interface{}, error) {
		email, err := p.lookup(ctx, token)
		if err != nil {
			p.logger.Warnw("identity lookup failed", "token", utils.MaskSensitive(token, 6), "error", err)
			return nil, err
		}
		return email, nil
	}, p.cacheTTL)
	if err != nil {
		return "", err
	}
	email, _ := value.(string)
	return email, nil
}

// ResolveIdentity maps a provider token to its verified email. Tokens the
// provider does not recognize are anonymous board tokens, not intruders:
// they resolve to themselves, and the permission table decides what an
// anonymous identity may do.
func (p *GoogleProvider) ResolveIdentity(ctx context.Context, token string) (string, error) {
	email, err := p.verifiedEmail(ctx, token)
	if err != nil {
		return "", err
	}
	if email == "" {
		return token, nil
	}
	return email, nil
}

// VerifyEmail checks that the token proves ownership of the email. Only a
// provider-verified email counts; the anonymous passthrough never does.
func (p *GoogleProvider) VerifyEmail(ctx context.Context, token, email string) (bool, error) {
	verified, err := p.verifiedEmail(ctx, token)
	if err != nil {
		return false, err
	}
	return verified != "" && verified == utils.NormalizeEmail(email), nil
}

var _ ports.IdentityProvider = (*GoogleProvider)(nil)
