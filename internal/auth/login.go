package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/pkg/browser"
	"github.com/rs/zerolog"
)

// ClientID identifies this CLI to the device-authorization endpoints.
const ClientID = "dotunnel-cli"

const deviceCodeGrant = "urn:ietf:params:oauth:grant-type:device_code"

// minPollInterval is the floor for token polling; the server may ask
// for a longer interval.
var minPollInterval = 5 * time.Second

// ErrAccessDenied is returned when the user rejects the authorization.
var ErrAccessDenied = errors.New("authorization denied by user")

// ErrCodeExpired is returned when the device code expires before the
// user completes the authorization.
var ErrCodeExpired = errors.New("device code expired")

// deviceCodeResponse is the device-authorization grant's first leg.
type deviceCodeResponse struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete"`
	ExpiresIn               int64  `json:"expires_in"`
	Interval                int64  `json:"interval"`
}

// tokenResponse is the polling leg: either an access token or an OAuth
// error code.
type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// LoginOptions configures a device-code login.
type LoginOptions struct {
	ServiceURL string
	Out        io.Writer
	Logger     zerolog.Logger

	// openBrowser is swapped out in tests.
	openBrowser func(url string) error
}

// Login runs the OAuth 2.0 device-authorization flow against the
// service and returns the granted access token.
func Login(ctx context.Context, opts LoginOptions) (string, error) {
	if opts.openBrowser == nil {
		opts.openBrowser = browser.OpenURL
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	client := &http.Client{Timeout: 30 * time.Second}

	dc, err := requestDeviceCode(ctx, client, opts.ServiceURL)
	if err != nil {
		return "", err
	}

	fmt.Fprintf(opts.Out, "Please visit the following URL to authorize this device:\n\n")
	fmt.Fprintf(opts.Out, "  %s\n\n", dc.VerificationURIComplete)
	fmt.Fprintf(opts.Out, "Or go to %s and enter code:\n\n", dc.VerificationURI)
	fmt.Fprintf(opts.Out, "  %s\n\n", dc.UserCode)

	if err := opts.openBrowser(dc.VerificationURIComplete); err != nil {
		opts.Logger.Debug().Err(err).Msg("failed to open browser")
	}

	fmt.Fprintln(opts.Out, "Waiting for authorization...")
	return pollToken(ctx, client, opts.ServiceURL, dc, opts.Out)
}

func requestDeviceCode(ctx context.Context, client *http.Client, serviceURL string) (*deviceCodeResponse, error) {
	body, _ := json.Marshal(map[string]string{"client_id": ClientID})
	resp, err := postJSON(ctx, client, serviceURL+"/_api/device/code", body)
	if err != nil {
		return nil, fmt.Errorf("request device code: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("request device code (%d): %s", resp.StatusCode, string(respBody))
	}

	var dc deviceCodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&dc); err != nil {
		return nil, fmt.Errorf("parse device code response: %w", err)
	}
	return &dc, nil
}

func pollToken(ctx context.Context, client *http.Client, serviceURL string, dc *deviceCodeResponse, out io.Writer) (string, error) {
	interval := time.Duration(dc.Interval) * time.Second
	if interval < minPollInterval {
		interval = minPollInterval
	}
	deadline := time.Now().Add(time.Duration(dc.ExpiresIn) * time.Second)

	body, _ := json.Marshal(map[string]string{
		"grant_type":  deviceCodeGrant,
		"device_code": dc.DeviceCode,
		"client_id":   ClientID,
	})

	for {
		if time.Now().After(deadline) {
			return "", ErrCodeExpired
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(interval):
		}

		resp, err := postJSON(ctx, client, serviceURL+"/_api/device/token", body)
		if err != nil {
			return "", fmt.Errorf("poll for token: %w", err)
		}
		var tok tokenResponse
		err = json.NewDecoder(resp.Body).Decode(&tok)
		resp.Body.Close()
		if err != nil {
			return "", fmt.Errorf("parse token response: %w", err)
		}

		switch tok.Error {
		case "":
			if tok.AccessToken == "" {
				return "", errors.New("token response missing access_token")
			}
			return tok.AccessToken, nil
		case "authorization_pending":
			fmt.Fprint(out, ".")
		case "slow_down":
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(interval):
			}
		case "access_denied":
			return "", ErrAccessDenied
		case "expired_token":
			return "", ErrCodeExpired
		default:
			return "", fmt.Errorf("authorization failed: %s - %s", tok.Error, tok.ErrorDescription)
		}
	}
}

func postJSON(ctx context.Context, client *http.Client, url string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return client.Do(req)
}
