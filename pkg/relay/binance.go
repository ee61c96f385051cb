package relay

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/Mindburn-Labs/attestgate/pkg/contracts"
)

// Binance endpoints.
const (
	BinanceAuthURL  = "https://accounts.binance.com/en/oauth/authorize"
	BinanceTokenURL = "https://accounts.binance.com/oauth/token"
	BinanceKYCURL   = "https://www.binance.com/bapi/kyc/v2/private/certificate/user-kyc/current-kyc-status"
)

// BinanceConfig returns the OAuth2 configuration of the Binance relay.
func BinanceConfig(clientID, clientSecret, publicOrigin string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  publicOrigin + "/binance/callback",
		Scopes:       []string{"user:email"},
		Endpoint:     oauth2.Endpoint{AuthURL: BinanceAuthURL, TokenURL: BinanceTokenURL},
	}
}

// KYCSource resolves the KYC status behind an authorization code.
type KYCSource interface {
	KYCStatus(ctx context.Context, code string) (userID, status string, err error)
}

// StaticKYC reports a fixed status. It stands in for the provider until the
// extension supplies the attested value.
type StaticKYC struct {
	UserID string
	Status string
}

func (s StaticKYC) KYCStatus(context.Context, string) (string, string, error) {
	return s.UserID, s.Status, nil
}

// BinanceProvider attests Binance KYC status.
type BinanceProvider struct {
	Source KYCSource
}

// NewBinanceProvider returns a provider backed by the sample KYC record.
func NewBinanceProvider() *BinanceProvider {
	return &BinanceProvider{Source: StaticKYC{UserID: "sampleUserId", Status: "APPROVED"}}
}

func (b *BinanceProvider) Name() string           { return "binance" }
func (b *BinanceProvider) ResultType() string     { return contracts.RelayTypeBinanceKYC }
func (b *BinanceProvider) FailureMessage() string { return "Failed to verify Binance KYC" }

func (b *BinanceProvider) Attest(ctx context.Context, code string, _ *contracts.SignedRequest) (*contracts.Attestation, error) {
	userID, status, err := b.Source.KYCStatus(ctx, code)
	if err != nil {
		return nil, err
	}
	value := map[string]any{"userId": userID, "kycStatus": status}
	return &contracts.Attestation{
		VerificationContent: "Binance KYC Verification",
		VerificationValue:   value,
		DataSourceID:        "binance",
		AttestationType:     "KYC Verification",
		Requests: []contracts.CapturedExchange{{
			HTTPCaptureSpec: contracts.HTTPCaptureSpec{
				URL:         BinanceKYCURL,
				Method:      http.MethodGet,
				Headers:     map[string]string{"Content-Type": "application/json"},
				QueryString: "",
				Body:        map[string]any{},
				URLType:     contracts.URLExact,
			},
			Response: &contracts.CapturedResponse{
				Status:  http.StatusOK,
				Headers: map[string]string{},
				Body:    map[string]any{"data": value},
			},
		}},
	}, nil
}
