package queue

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const metadataIdentityURL = "http://metadata.google.internal/computeMetadata/v1/instance/service-accounts/default/identity"

// metadataTokenSource mints OIDC identity tokens from the hosted-runtime
// metadata server, audience-bound to the worker URL. The worker only accepts
// requests carrying a token for the configured invoker service account.
type metadataTokenSource struct {
	audience string
	client   *http.Client
}

// NewMetadataTokenSource returns a cached token source, or nil when no
// invoker service account is configured (local development).
func NewMetadataTokenSource(audience, invokerSA string) oauth2.TokenSource {
	if invokerSA == "" {
		return nil
	}
	return oauth2.ReuseTokenSource(nil, &metadataTokenSource{
		audience: audience,
		client:   &http.Client{Timeout: 10 * time.Second},
	})
}

// Token fetches a fresh identity token. ReuseTokenSource in front caches it
// until expiry.
func (s *metadataTokenSource) Token() (*oauth2.Token, error) {
	reqURL := metadataIdentityURL + "?audience=" + url.QueryEscape(s.audience)
	req, err := http.NewRequest(http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Metadata-Flavor", "Google")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach metadata server: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("metadata server returned %d", resp.StatusCode)
	}

	raw := strings.TrimSpace(string(body))
	return &oauth2.Token{
		AccessToken: raw,
		TokenType:   "Bearer",
		Expiry:      tokenExpiry(raw),
	}, nil
}

// tokenExpiry extracts the exp claim so ReuseTokenSource refreshes on time.
// An unparseable token gets a short lifetime rather than an error; the worker
// will reject it if it is actually invalid.
func tokenExpiry(raw string) time.Time {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return time.Now().Add(time.Minute)
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return time.Now().Add(time.Minute)
	}
	var claims struct {
		Exp int64 `json:"exp"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil || claims.Exp == 0 {
		return time.Now().Add(time.Minute)
	}
	return time.Unix(claims.Exp, 0)
}
