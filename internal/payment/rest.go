package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RESTProvider talks to a PayPal-compatible REST API using the
// client-credentials OAuth flow. The access token is cached until shortly
// before expiry.
type RESTProvider struct {
	baseURL      string
	clientID     string
	clientSecret string
	httpClient   *http.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func NewRESTProvider(baseURL, clientID, clientSecret string) *RESTProvider {
	return &RESTProvider{
		baseURL:      strings.TrimRight(baseURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: 15 * time.Second},
	}
}

type captureResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type refundResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (p *RESTProvider) Capture(ctx context.Context, amountCents int64, currency string) (string, error) {
	body := map[string]any{
		"amount": map[string]string{
			"currency_code": currency,
			"value":         formatAmount(amountCents),
		},
	}
	var out captureResponse
	if err := p.post(ctx, "/v2/payments/captures", body, &out); err != nil {
		return "", fmt.Errorf("%w: %v", ErrDeclined, err)
	}
	if out.Status != "COMPLETED" {
		return "", fmt.Errorf("%w: status %s", ErrDeclined, out.Status)
	}
	return out.ID, nil
}

func (p *RESTProvider) Refund(ctx context.Context, captureRef string, amountCents int64, currency string) (string, error) {
	body := map[string]any{
		"amount": map[string]string{
			"currency_code": currency,
			"value":         formatAmount(amountCents),
		},
	}
	path := "/v2/payments/captures/" + url.PathEscape(captureRef) + "/refund"
	var out refundResponse
	if err := p.post(ctx, path, body, &out); err != nil {
		return "", fmt.Errorf("%w: %v", ErrRefundFailed, err)
	}
	if out.Status != "COMPLETED" && out.Status != "PENDING" {
		return "", fmt.Errorf("%w: status %s", ErrRefundFailed, out.Status)
	}
	return out.ID, nil
}

func (p *RESTProvider) post(ctx context.Context, path string, body, out any) error {
	token, err := p.token(ctx)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("provider returned %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (p *RESTProvider) token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.accessToken != "" && time.Now().Before(p.tokenExpiry) {
		return p.accessToken, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(p.clientID, p.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned %d", resp.StatusCode)
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", err
	}
	p.accessToken = tok.AccessToken
	// Refresh a minute early to avoid using a token that expires mid-call.
	p.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn)*time.Second - time.Minute)
	return p.accessToken, nil
}

func formatAmount(cents int64) string {
	return strconv.FormatInt(cents/100, 10) + "." + fmt.Sprintf("%02d", cents%100)
}
