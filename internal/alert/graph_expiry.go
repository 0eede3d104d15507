package alert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/oszuidwest/zwfm-levelmeter/internal/types"
	"github.com/oszuidwest/zwfm-levelmeter/internal/util"
)

const (
	expiryWarningDays = 30
	expiryRecheck     = time.Hour
)

// SecretExpiryChecker looks up when the Graph app registration's client
// secret expires, so the status page can warn before alert mail stops.
// Lookups are cached for an hour.
type SecretExpiryChecker struct {
	client *http.Client

	mu      sync.Mutex
	cfg     types.GraphConfig
	info    types.SecretExpiryInfo
	checked time.Time
}

// NewSecretExpiryChecker returns a checker for the credentials in cfg.
func NewSecretExpiryChecker(cfg types.GraphConfig) *SecretExpiryChecker {
	return &SecretExpiryChecker{cfg: cfg, client: &http.Client{Timeout: graphTimeout}}
}

// UpdateConfig switches to new credentials; the next Info looks up again.
func (c *SecretExpiryChecker) UpdateConfig(cfg types.GraphConfig) {
	c.mu.Lock()
	c.cfg = cfg
	c.checked = time.Time{}
	c.mu.Unlock()
}

// Info returns the cached expiry, looking it up when the cache is stale.
// Failures are reported in the Error field.
func (c *SecretExpiryChecker) Info(ctx context.Context) types.SecretExpiryInfo {
	c.mu.Lock()
	if !c.checked.IsZero() && time.Since(c.checked) < expiryRecheck {
		defer c.mu.Unlock()
		return c.info
	}
	cfg := c.cfg
	c.mu.Unlock()

	info := types.SecretExpiryInfo{Error: "Graph API not configured"}
	if util.IsConfigured(cfg.TenantID, cfg.ClientID, cfg.ClientSecret) {
		expiry, err := c.lookup(ctx, &cfg)
		if err != nil {
			info = types.SecretExpiryInfo{Error: err.Error()}
		} else {
			info = expiryInfo(expiry, time.Now())
		}
	}

	c.mu.Lock()
	c.info, c.checked = info, time.Now()
	c.mu.Unlock()
	return info
}

type applicationResponse struct {
	PasswordCredentials []passwordCredential `json:"passwordCredentials"`
}

type passwordCredential struct {
	EndDateTime string `json:"endDateTime"`
}

// lookup returns the earliest end date among the app's password credentials.
// A zero time means the registration has none.
func (c *SecretExpiryChecker) lookup(ctx context.Context, cfg *types.GraphConfig) (time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, graphTimeout)
	defer cancel()

	ts, err := graphTokenSource(context.WithValue(ctx, oauth2.HTTPClient, c.client), cfg)
	if err != nil {
		return time.Time{}, err
	}
	client := oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, c.client), ts)

	appURL := fmt.Sprintf("%s/applications(appId='%s')?$select=passwordCredentials", graphBaseURL, url.PathEscape(cfg.ClientID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, appURL, http.NoBody)
	if err != nil {
		return time.Time{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return time.Time{}, fmt.Errorf("application lookup: %w", err)
	}
	defer util.SafeCloseFunc(resp.Body, "graph application response")()
	if resp.StatusCode != http.StatusOK {
		return time.Time{}, graphError(resp)
	}

	var app applicationResponse
	if err := json.NewDecoder(resp.Body).Decode(&app); err != nil {
		return time.Time{}, fmt.Errorf("decode application: %w", err)
	}

	var earliest time.Time
	for _, cred := range app.PasswordCredentials {
		end, err := time.Parse(time.RFC3339, cred.EndDateTime)
		if err == nil && (earliest.IsZero() || end.Before(earliest)) {
			earliest = end
		}
	}
	if earliest.IsZero() {
		return time.Time{}, errors.New("no password credentials found")
	}
	return earliest, nil
}

func expiryInfo(expiry, now time.Time) types.SecretExpiryInfo {
	days := max(int(expiry.Sub(now).Hours()/24), 0)
	return types.SecretExpiryInfo{
		ExpiresAt:   expiry.Format(time.RFC3339),
		ExpiresSoon: days <= expiryWarningDays,
		DaysLeft:    days,
	}
}
