package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

// IDTokenClaims is the subset of OIDC claims the relay consumes.
type IDTokenClaims struct {
	jwt.RegisteredClaims
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
}

// IDTokenVerifier validates an OIDC ID token.
type IDTokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (*IDTokenClaims, error)
}

// JWKSVerifier verifies RS256 ID tokens against a remote key set, caching
// the keys and refreshing them when an unknown key id appears.
type JWKSVerifier struct {
	JWKSURL  string
	Audience string
	Issuers  []string
	Client   *http.Client
	TTL      time.Duration

	mu        sync.Mutex
	keys      *jose.JSONWebKeySet
	fetchedAt time.Time
}

// NewJWKSVerifier creates a verifier with a one hour key cache.
func NewJWKSVerifier(jwksURL, audience string, issuers []string, client *http.Client) *JWKSVerifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &JWKSVerifier{JWKSURL: jwksURL, Audience: audience, Issuers: issuers, Client: client, TTL: time.Hour}
}

func (v *JWKSVerifier) Verify(ctx context.Context, rawToken string) (*IDTokenClaims, error) {
	claims := &IDTokenClaims{}
	_, err := jwt.ParseWithClaims(rawToken, claims, v.keyFunc(ctx),
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithAudience(v.Audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	if len(v.Issuers) > 0 && !slices.Contains(v.Issuers, claims.Issuer) {
		return nil, fmt.Errorf("invalid issuer: %s", claims.Issuer)
	}
	return claims, nil
}

func (v *JWKSVerifier) keyFunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, fmt.Errorf("missing kid in header")
		}
		key, err := v.lookup(ctx, kid)
		if err != nil {
			return nil, err
		}
		return key.Key, nil
	}
}

func (v *JWKSVerifier) lookup(ctx context.Context, kid string) (*jose.JSONWebKey, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	fresh := v.keys != nil && time.Since(v.fetchedAt) < v.TTL
	if fresh {
		if keys := v.keys.Key(kid); len(keys) > 0 {
			return &keys[0], nil
		}
	}
	if err := v.refresh(ctx); err != nil {
		return nil, err
	}
	if keys := v.keys.Key(kid); len(keys) > 0 {
		return &keys[0], nil
	}
	return nil, fmt.Errorf("key not found: %s", kid)
}

func (v *JWKSVerifier) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.JWKSURL, nil)
	if err != nil {
		return err
	}
	resp, err := v.Client.Do(req)
	if err != nil {
		return fmt.Errorf("jwks fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks fetch failed: %d", resp.StatusCode)
	}
	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("jwks decode: %w", err)
	}
	v.keys = &set
	v.fetchedAt = time.Now()
	return nil
}
