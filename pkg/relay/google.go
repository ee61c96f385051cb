package relay

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/Mindburn-Labs/attestgate/pkg/attesterr"
	"github.com/Mindburn-Labs/attestgate/pkg/contracts"
)

// Google endpoints.
const (
	GoogleAuthURL  = "https://accounts.google.com/o/oauth2/v2/auth"
	GoogleTokenURL = "https://oauth2.googleapis.com/token"
	GoogleJWKSURL  = "https://www.googleapis.com/oauth2/v3/certs"
)

// GoogleIssuers are the accepted ID token issuers.
var GoogleIssuers = []string{"https://accounts.google.com", "accounts.google.com"}

// GoogleConfig returns the OAuth2 configuration of the Google relay.
func GoogleConfig(clientID, clientSecret, publicOrigin string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  publicOrigin + "/google/callback",
		Scopes:       []string{"openid", "email", "profile"},
		Endpoint:     oauth2.Endpoint{AuthURL: GoogleAuthURL, TokenURL: GoogleTokenURL},
	}
}

// GoogleProvider attests ownership of a Google account with a verified email.
type GoogleProvider struct {
	Config     *oauth2.Config
	Verifier   IDTokenVerifier
	HTTPClient *http.Client
}

// NewGoogleProvider wires the provider with a JWKS-backed ID token verifier.
func NewGoogleProvider(cfg *oauth2.Config, client *http.Client) *GoogleProvider {
	return &GoogleProvider{
		Config:     cfg,
		Verifier:   NewJWKSVerifier(GoogleJWKSURL, cfg.ClientID, GoogleIssuers, client),
		HTTPClient: client,
	}
}

func (g *GoogleProvider) Name() string           { return "google" }
func (g *GoogleProvider) ResultType() string     { return contracts.RelayTypeGmail }
func (g *GoogleProvider) FailureMessage() string { return "Failed to verify Google account" }

// Attest exchanges code and verifies the returned ID token.
func (g *GoogleProvider) Attest(ctx context.Context, code string, _ *contracts.SignedRequest) (*contracts.Attestation, error) {
	if g.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, g.HTTPClient)
	}
	tok, err := g.Config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("google code exchange: %w", err)
	}
	idToken, _ := tok.Extra("id_token").(string)
	if idToken == "" {
		return nil, fmt.Errorf("google token response carries no id_token")
	}

	claims, err := g.Verifier.Verify(ctx, idToken)
	if err != nil {
		return nil, fmt.Errorf("google id token: %w", err)
	}
	if !claims.EmailVerified {
		return nil, attesterr.New(attesterr.KindProviderDeclined, "email_not_verified", "Email not verified")
	}

	return &contracts.Attestation{
		VerificationContent: "Account ownership",
		VerificationValue:   claims.Email,
		DataSourceID:        "google",
		AttestationType:     "Humanity Verification",
		SchemaType:          "http",
		Requests: []contracts.CapturedExchange{{
			HTTPCaptureSpec: contracts.HTTPCaptureSpec{
				URL:         GoogleAuthURL,
				Method:      http.MethodGet,
				Headers:     map[string]string{"Content-Type": "application/json"},
				QueryString: "client_id=" + g.Config.ClientID + "&response_type=code&scope=email profile",
				Body:        map[string]any{},
				URLType:     contracts.URLExact,
			},
			Response: &contracts.CapturedResponse{Status: http.StatusOK, Headers: map[string]string{}, Body: map[string]any{}},
		}},
	}, nil
}
