package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultProwlEndpoint is the Prowl "add" API.
const DefaultProwlEndpoint = "https://prowl.weks.net/publicapi/add"

// EnvProwlAPIKey holds the Prowl API key.
const EnvProwlAPIKey = "PROWL_APIKEY"

// Prowl pushes notifications through the Prowl public API.
type Prowl struct {
	APIKey      string
	Application string
	Endpoint    string
	Client      *http.Client
}

// NewProwlFromEnv builds a Prowl notifier from PROWL_APIKEY.
func NewProwlFromEnv(getenv func(string) string) (Notifier, error) {
	key := getenv(EnvProwlAPIKey)
	if key == "" {
		return nil, errors.New(EnvProwlAPIKey + " is not set")
	}
	return &Prowl{
		APIKey:      key,
		Application: "pyra",
		Endpoint:    DefaultProwlEndpoint,
		Client:      &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (p *Prowl) Channel() string { return ChannelProwl }

// Deliver posts the message as a form-encoded request.
func (p *Prowl) Deliver(ctx context.Context, subject, message string) error {
	form := url.Values{
		"apikey":      {p.APIKey},
		"application": {p.Application},
		"event":       {subject},
		"description": {message},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build prowl request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "text/plain")

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("prowl request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("prowl returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
