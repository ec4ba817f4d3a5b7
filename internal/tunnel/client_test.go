package tunnel

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientRequiresConfig(t *testing.T) {
	_, err := NewClient(Options{Token: "tok"})
	assert.ErrorIs(t, err, ErrConfigMissing)

	_, err = NewClient(Options{ServiceURL: "http://svc"})
	assert.ErrorIs(t, err, ErrConfigMissing)

	c, err := NewClient(Options{ServiceURL: "http://svc", Token: "tok", LocalPort: 3000})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:3000", c.localAddr)
}

func TestNextBackoff(t *testing.T) {
	backoff := initialBackoff
	var observed []time.Duration
	for range 8 {
		observed = append(observed, backoff)
		backoff = nextBackoff(backoff)
	}
	assert.Equal(t, []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 32 * time.Second, 60 * time.Second, 60 * time.Second,
	}, observed)
}

func TestBearerURL(t *testing.T) {
	assert.Equal(t,
		"ws://svc.test/_api/tunnel/connect?tunnelId=abc",
		bearerURL("http://svc.test", "abc"))
	assert.Equal(t,
		"wss://svc.test/_api/tunnel/connect?tunnelId=abc",
		bearerURL("https://svc.test", "abc"))
}

func TestAllocateTunnel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/_api/tunnel/connect", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"subdomain":"myapp"}`, string(body))

		json.NewEncoder(w).Encode(map[string]string{
			"tunnelId":  "t-1",
			"tunnelUrl": "https://myapp.dotunnel.dev",
			"subdomain": "myapp",
		})
	}))
	defer srv.Close()

	c, err := NewClient(Options{
		ServiceURL: srv.URL,
		Token:      "tok",
		LocalPort:  3000,
		Subdomain:  "myapp",
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, err)

	info, err := c.allocateTunnel(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "t-1", info.TunnelID)
	assert.Equal(t, "https://myapp.dotunnel.dev", info.TunnelURL)
	assert.Equal(t, "myapp", info.Subdomain)
}

func TestAllocateTunnelNoSubdomain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{}`, string(body))
		json.NewEncoder(w).Encode(map[string]string{"tunnelId": "t-2"})
	}))
	defer srv.Close()

	c, err := NewClient(Options{ServiceURL: srv.URL, Token: "tok", LocalPort: 3000})
	require.NoError(t, err)

	info, err := c.allocateTunnel(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "t-2", info.TunnelID)
}

func TestAllocateTunnelRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]string{
			"error": "subdomain already taken",
			"code":  "conflict",
		})
	}))
	defer srv.Close()

	c, err := NewClient(Options{ServiceURL: srv.URL, Token: "tok", LocalPort: 3000})
	require.NoError(t, err)

	_, err = c.allocateTunnel(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "subdomain already taken")
}
