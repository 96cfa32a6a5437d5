// Package captcha scores attestation tokens with Google reCAPTCHA v3.
package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/Namchee/tanyaaja/pkg/httpx"
)

const DefaultVerifyURL = "https://www.google.com/recaptcha/api/siteverify"

var (
	// ErrMalformedResponse means the verifier answered with something that is
	// not a usable assessment.
	ErrMalformedResponse = errors.New("malformed verifier response")
	// ErrMisconfigured means the verifier rejected our own credentials or request.
	ErrMisconfigured = errors.New("verifier rejected server configuration")
)

// Error codes that describe our side of the exchange rather than the token.
var configErrorCodes = map[string]struct{}{
	"missing-input-secret": {},
	"invalid-input-secret": {},
	"bad-request":          {},
}

// Assessment is the verifier's view of one token.
type Assessment struct {
	Success    bool
	Score      float64
	Action     string
	Hostname   string
	ErrorCodes []string
}

type siteverifyResponse struct {
	Success     bool     `json:"success"`
	Score       *float64 `json:"score"`
	Action      string   `json:"action"`
	ChallengeTS string   `json:"challenge_ts"`
	Hostname    string   `json:"hostname"`
	ErrorCodes  []string `json:"error-codes"`
}

type RecaptchaClient struct {
	HTTPClient *http.Client
	VerifyURL  string
	Secret     string
}

// Verify submits token and remoteIP to siteverify exactly once; tokens are
// single-use. An unsuccessful verification caused by the token itself is
// returned as a zero score with a nil error. Everything else that prevents a
// decision is an error.
func (c *RecaptchaClient) Verify(ctx context.Context, token, remoteIP string) (Assessment, error) {
	endpoint := strings.TrimSpace(c.VerifyURL)
	if endpoint == "" {
		endpoint = DefaultVerifyURL
	}
	form := url.Values{}
	form.Set("secret", c.Secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}
	status, body, err := httpx.PostForm(ctx, c.HTTPClient, endpoint, form)
	if err != nil {
		return Assessment{}, fmt.Errorf("siteverify: %w", err)
	}
	if status < 200 || status > 299 {
		return Assessment{}, fmt.Errorf("siteverify: unexpected status %d", status)
	}
	var out siteverifyResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return Assessment{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	a := Assessment{
		Success:    out.Success,
		Action:     out.Action,
		Hostname:   out.Hostname,
		ErrorCodes: out.ErrorCodes,
	}
	if !out.Success {
		for _, code := range out.ErrorCodes {
			if _, ok := configErrorCodes[code]; ok {
				return a, fmt.Errorf("%w: %s", ErrMisconfigured, strings.Join(out.ErrorCodes, ","))
			}
		}
		return a, nil
	}
	if out.Score == nil {
		return a, fmt.Errorf("%w: score missing", ErrMalformedResponse)
	}
	if *out.Score < 0 || *out.Score > 1 {
		return a, fmt.Errorf("%w: score %v out of range", ErrMalformedResponse, *out.Score)
	}
	a.Score = *out.Score
	return a, nil
}
