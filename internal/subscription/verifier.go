// Package subscription talks to the external purchase verification service.
// The service answers whether a platform purchase token is valid and, if so,
// when the paid period ends. Store receipt validation itself happens there.
package subscription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Platforms accepted by the verification service.
const (
	PlatformAndroid = "android"
	PlatformIOS     = "ios"
)

// ErrUnsupportedPlatform is returned before any network call for an unknown platform.
var ErrUnsupportedPlatform = errors.New("unsupported platform")

// Verification is the verifier's answer.
type Verification struct {
	IsValid    bool      `json:"isValid"`
	ExpiryDate time.Time `json:"expiryDate"`
}

// Verifier validates platform purchase tokens.
type Verifier interface {
	Verify(ctx context.Context, platform, purchaseToken string) (Verification, error)
}

type verifyRequest struct {
	Platform      string `json:"platform"`
	PurchaseToken string `json:"purchaseToken"`
}

// HTTPVerifier calls POST {BaseURL}/verify with a bearer key.
type HTTPVerifier struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewHTTPVerifier returns a verifier with a 10s client timeout.
func NewHTTPVerifier(baseURL, apiKey string) *HTTPVerifier {
	return &HTTPVerifier{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// NormalizePlatform lower-cases p and reports whether it is supported.
func NormalizePlatform(p string) (string, bool) {
	p = strings.ToLower(strings.TrimSpace(p))
	switch p {
	case PlatformAndroid, PlatformIOS:
		return p, true
	}
	return p, false
}

// Verify asks the service about purchaseToken. Transport failures and non-2xx
// answers are errors; an invalid token is a successful call with IsValid=false.
func (v *HTTPVerifier) Verify(ctx context.Context, platform, purchaseToken string) (Verification, error) {
	platform, ok := NormalizePlatform(platform)
	if !ok {
		return Verification{}, ErrUnsupportedPlatform
	}

	body, err := json.Marshal(verifyRequest{Platform: platform, PurchaseToken: purchaseToken})
	if err != nil {
		return Verification{}, errors.Wrap(err, "subscription.Verify: marshal")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.BaseURL+"/verify", bytes.NewReader(body))
	if err != nil {
		return Verification{}, errors.Wrap(err, "subscription.Verify: build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if v.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+v.APIKey)
	}

	resp, err := v.client().Do(req)
	if err != nil {
		return Verification{}, errors.Wrap(err, "subscription.Verify: request")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return Verification{}, errors.Wrap(err, "subscription.Verify: read body")
	}
	if resp.StatusCode >= 300 {
		return Verification{}, fmt.Errorf("subscription.Verify: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out Verification
	if err := json.Unmarshal(raw, &out); err != nil {
		return Verification{}, errors.Wrap(err, "subscription.Verify: decode")
	}
	return out, nil
}

func (v *HTTPVerifier) client() *http.Client {
	if v.HTTPClient != nil {
		return v.HTTPClient
	}
	return http.DefaultClient
}
