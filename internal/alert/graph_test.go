package alert

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-levelmeter/internal/types"
)

const (
	testTenant = "12345678-1234-1234-1234-123456789abc"
	testClient = "87654321-4321-4321-4321-cba987654321"
)

func testGraphConfig() types.GraphConfig {
	return types.GraphConfig{
		TenantID:     testTenant,
		ClientID:     testClient,
		ClientSecret: "secret",
		FromAddress:  "alerts@example.org",
		Recipients:   "ops@example.org, studio@example.org",
	}
}

// fakeGraph serves the token endpoint and the Graph calls used here.
type fakeGraph struct {
	*httptest.Server
	mails      atomic.Int32
	lastMail   atomic.Pointer[graphMailRequest]
	expiryDays int
}

func newFakeGraph(t *testing.T) *fakeGraph {
	t.Helper()
	g := &fakeGraph{expiryDays: 10}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /"+testTenant+"/oauth2/v2.0/token", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch {
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/sendMail"):
			var req graphMailRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			g.lastMail.Store(&req)
			g.mails.Add(1)
			w.WriteHeader(http.StatusAccepted)
		case strings.HasPrefix(r.URL.Path, "/applications"):
			end := time.Now().Add(time.Duration(g.expiryDays)*24*time.Hour + time.Hour)
			_ = json.NewEncoder(w).Encode(applicationResponse{PasswordCredentials: []passwordCredential{
				{EndDateTime: end.Add(300 * 24 * time.Hour).Format(time.RFC3339)},
				{EndDateTime: end.Format(time.RFC3339)},
				{EndDateTime: "garbage"},
			}})
		case strings.HasPrefix(r.URL.Path, "/users/"):
			w.WriteHeader(http.StatusForbidden)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	g.Server = httptest.NewServer(mux)
	t.Cleanup(g.Close)

	oldBase, oldToken := graphBaseURL, tokenURLTemplate
	graphBaseURL = g.URL
	tokenURLTemplate = g.URL + "/%s/oauth2/v2.0/token"
	t.Cleanup(func() { graphBaseURL, tokenURLTemplate = oldBase, oldToken })
	return g
}

func TestSendTestEmail(t *testing.T) {
	g := newFakeGraph(t)
	cfg := testGraphConfig()

	require.NoError(t, SendTestEmail(&cfg, "Station"))
	require.Equal(t, int32(1), g.mails.Load())

	mail := g.lastMail.Load()
	assert.Equal(t, "[TEST] Station", mail.Message.Subject)
	require.Len(t, mail.Message.ToRecipients, 2)
	assert.Equal(t, "ops@example.org", mail.Message.ToRecipients[0].EmailAddress.Address)
	assert.Equal(t, "studio@example.org", mail.Message.ToRecipients[1].EmailAddress.Address)
}

func TestSendTestEmailRejectsInvalidConfig(t *testing.T) {
	cfg := testGraphConfig()
	cfg.TenantID = "not-a-guid"
	err := SendTestEmail(&cfg, "Station")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration error")
}

func TestNotifierSendsEmail(t *testing.T) {
	g := newFakeGraph(t)
	cfg := newTestConfig(t)
	require.NoError(t, cfg.SetGraphConfig(testGraphConfig()))

	n := NewNotifier(cfg)
	n.HandleEvent(Event{JustEntered: true, LevelDB: 82, TargetDB: 70, DurationMs: 5000})
	n.Wait()

	require.Equal(t, int32(1), g.mails.Load())
	mail := g.lastMail.Load()
	assert.Contains(t, mail.Message.Subject, "[ALERT]")
	assert.Contains(t, mail.Message.Body.Content, "82.0 dB")

	n.HandleEvent(Event{JustRecovered: true, TotalDurationMs: 65_000, LevelDB: 61, TargetDB: 70})
	n.Wait()
	require.Equal(t, int32(2), g.mails.Load())
	mail = g.lastMail.Load()
	assert.Contains(t, mail.Message.Subject, "[OK]")
	assert.Contains(t, mail.Message.Body.Content, "1m 5s")
}

func TestSecretExpiryChecker(t *testing.T) {
	newFakeGraph(t)

	c := NewSecretExpiryChecker(types.GraphConfig{})
	assert.Equal(t, "Graph API not configured", c.Info(context.Background()).Error)

	c.UpdateConfig(testGraphConfig())
	info := c.Info(context.Background())
	require.Empty(t, info.Error)
	assert.Equal(t, 10, info.DaysLeft)
	assert.True(t, info.ExpiresSoon)
	assert.NotEmpty(t, info.ExpiresAt)
}

func TestParseRecipients(t *testing.T) {
	assert.Equal(t, []string{"a@x.org", "b@x.org"}, ParseRecipients(" a@x.org,, b@x.org ,"))
	assert.Empty(t, ParseRecipients(""))
}

func TestValidateConfig(t *testing.T) {
	cfg := testGraphConfig()
	require.NoError(t, ValidateConfig(&cfg))
	assert.True(t, mailReady(&cfg))

	cfg.Recipients = ""
	assert.Error(t, ValidateConfig(&cfg))
	assert.False(t, mailReady(&cfg))

	cfg = testGraphConfig()
	cfg.ClientID = "abc"
	assert.Error(t, ValidateConfig(&cfg))
}

func TestGraphMailerRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/token") {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token":"tok","token_type":"Bearer","expires_in":3600}`))
			return
		}
		n := calls.Add(1)
		var req graphMailRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		switch {
		case req.Message.Subject == "reject":
			w.WriteHeader(http.StatusBadRequest)
		case n == 1:
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			w.WriteHeader(http.StatusAccepted)
		}
	}))
	defer srv.Close()

	oldBase, oldToken := graphBaseURL, tokenURLTemplate
	graphBaseURL = srv.URL
	tokenURLTemplate = srv.URL + "/%s/token"
	defer func() { graphBaseURL, tokenURLTemplate = oldBase, oldToken }()

	cfg := testGraphConfig()
	m, err := newGraphMailer(&cfg)
	require.NoError(t, err)

	require.NoError(t, m.Send(context.Background(), []string{"ops@example.org"}, "level", "b"))
	assert.Equal(t, int32(2), calls.Load(), "5xx is retried")

	err = m.Send(context.Background(), []string{"ops@example.org"}, "reject", "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Equal(t, int32(3), calls.Load(), "4xx is not retried")

	assert.Error(t, m.Send(context.Background(), []string{" "}, "level", "b"))
}

func TestExpiryInfo(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	info := expiryInfo(now.Add(90*24*time.Hour), now)
	assert.Equal(t, 90, info.DaysLeft)
	assert.False(t, info.ExpiresSoon)

	info = expiryInfo(now.Add(-time.Hour), now)
	assert.Zero(t, info.DaysLeft, "expired secrets do not go negative")
	assert.True(t, info.ExpiresSoon)
}
