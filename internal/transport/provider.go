package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var ErrBreakerOpen = errors.New("provider circuit open")

// Provider performs exactly one outbound send and returns the provider's
// message reference.
type Provider interface {
	Name() string
	Send(ctx context.Context, to, from, body string) (string, error)
}

// MockProvider never leaves the process.
type MockProvider struct{}

func (MockProvider) Name() string { return "mock" }

func (MockProvider) Send(context.Context, string, string, string) (string, error) {
	return "", nil
}

type TwilioConfig struct {
	BaseURL          string
	AccountSID       string
	AuthToken        string
	Timeout          time.Duration
	BreakerThreshold int
	BreakerOpenFor   time.Duration
}

// TwilioProvider talks to the Twilio-compatible Messages REST resource.
type TwilioProvider struct {
	baseURL    string
	accountSID string
	authToken  string
	client     *http.Client
	br         *MicroBreaker
}

func NewTwilioProvider(cfg TwilioConfig) *TwilioProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.twilio.com"
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	if cfg.BreakerOpenFor <= 0 {
		cfg.BreakerOpenFor = 30 * time.Second
	}

	return &TwilioProvider{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		client:     &http.Client{Timeout: cfg.Timeout},
		br:         NewMicroBreaker(cfg.BreakerThreshold, cfg.BreakerOpenFor),
	}
}

func (p *TwilioProvider) Name() string { return "twilio" }

// Ready is false while the breaker is open and no trial call is due.
func (p *TwilioProvider) Ready() bool { return p.br.Ready() }

func (p *TwilioProvider) Send(ctx context.Context, to, from, body string) (string, error) {
	if !p.br.TryAcquire() {
		return "", ErrBreakerOpen
	}

	ref, err := p.post(ctx, to, from, body)
	if err != nil {
		p.br.OnFailure()
		return "", err
	}

	p.br.OnSuccess()

	return ref, nil
}

type twilioMessage struct {
	SID     string `json:"sid"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (p *TwilioProvider) post(ctx context.Context, to, from, body string) (string, error) {
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", from)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", p.baseURL, url.PathEscape(p.accountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}

	req.SetBasicAuth(p.accountSID, p.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	res, err := p.client.Do(req)
	if err != nil {
		return "", err
	}

	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("read provider response: %w", err)
	}

	var msg twilioMessage
	_ = json.Unmarshal(raw, &msg)

	if res.StatusCode/100 != 2 {
		if msg.Message != "" {
			return "", fmt.Errorf("twilio status=%d code=%d: %s", res.StatusCode, msg.Code, msg.Message)
		}
		return "", fmt.Errorf("twilio status=%d", res.StatusCode)
	}

	if msg.SID == "" {
		return "", errors.New("twilio response missing message sid")
	}

	return msg.SID, nil
}
