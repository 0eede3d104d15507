package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/oszuidwest/zwfm-levelmeter/internal/types"
	"github.com/oszuidwest/zwfm-levelmeter/internal/util"
)

const (
	graphScope   = "https://graph.microsoft.com/.default"
	graphTimeout = 30 * time.Second

	mailAttempts   = 4
	mailRetryFirst = time.Second
	mailRetryMax   = 30 * time.Second
)

// Overridden in tests.
var (
	graphBaseURL     = "https://graph.microsoft.com/v1.0"
	tokenURLTemplate = "https://login.microsoftonline.com/%s/oauth2/v2.0/token" //nolint:gosec // URL template, not a credential
)

var guidPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// checkCredentials reports the first missing app registration field. With
// requireGUIDs the tenant and client IDs must also be GUIDs, which catches
// a domain name pasted as tenant before any token request is made.
func checkCredentials(cfg *types.GraphConfig, requireGUIDs bool) error {
	ids := []struct{ name, value string }{
		{"tenant ID", cfg.TenantID},
		{"client ID", cfg.ClientID},
	}
	for _, id := range ids {
		if id.value == "" {
			return fmt.Errorf("%s is required", id.name)
		}
		if requireGUIDs && !guidPattern.MatchString(id.value) {
			return fmt.Errorf("%s %q is not a GUID", id.name, id.value)
		}
	}
	if cfg.ClientSecret == "" {
		return errors.New("client secret is required")
	}
	return nil
}

func credentials(cfg *types.GraphConfig) *clientcredentials.Config {
	return &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     fmt.Sprintf(tokenURLTemplate, url.PathEscape(cfg.TenantID)),
		Scopes:       []string{graphScope},
	}
}

// graphTokenSource returns an app-only token source. The HTTP client used for
// token requests is taken from ctx as oauth2.HTTPClient.
func graphTokenSource(ctx context.Context, cfg *types.GraphConfig) (oauth2.TokenSource, error) {
	if err := checkCredentials(cfg, false); err != nil {
		return nil, err
	}
	return credentials(cfg).TokenSource(ctx), nil
}

// graphMailer sends plain text mail from a shared mailbox.
type graphMailer struct {
	sendURL string
	userURL string
	client  *http.Client
}

func newGraphMailer(cfg *types.GraphConfig) (*graphMailer, error) {
	if err := checkCredentials(cfg, false); err != nil {
		return nil, err
	}
	if cfg.FromAddress == "" {
		return nil, errors.New("from address (shared mailbox) is required")
	}

	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Timeout: graphTimeout})
	user := graphBaseURL + "/users/" + url.PathEscape(cfg.FromAddress)
	return &graphMailer{
		sendURL: user + "/sendMail",
		userURL: user,
		client:  credentials(cfg).Client(ctx),
	}, nil
}

// graphMailRequest is the sendMail body.
type graphMailRequest struct {
	Message struct {
		Subject string `json:"subject"`
		Body    struct {
			ContentType string `json:"contentType"`
			Content     string `json:"content"`
		} `json:"body"`
		ToRecipients []graphAddressee `json:"toRecipients"`
	} `json:"message"`
}

type graphAddressee struct {
	EmailAddress struct {
		Address string `json:"address"`
	} `json:"emailAddress"`
}

// Send mails subject and body to recipients. Throttling and 5xx responses are
// retried with backoff, honouring Retry-After.
func (m *graphMailer) Send(ctx context.Context, recipients []string, subject, body string) error {
	var req graphMailRequest
	for _, r := range recipients {
		if r = strings.TrimSpace(r); r != "" {
			var a graphAddressee
			a.EmailAddress.Address = r
			req.Message.ToRecipients = append(req.Message.ToRecipients, a)
		}
	}
	if len(req.Message.ToRecipients) == 0 {
		return errors.New("no recipients specified")
	}
	req.Message.Subject = subject
	req.Message.Body.ContentType = "Text"
	req.Message.Body.Content = body

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode mail: %w", err)
	}

	backoff := util.NewBackoff(mailRetryFirst, mailRetryMax)
	var lastErr error
	for attempt := range mailAttempts {
		if attempt > 0 {
			select {
			case <-time.After(backoff.Next()):
			case <-ctx.Done():
				return errors.Join(lastErr, ctx.Err())
			}
		}

		retry, err := m.post(ctx, payload)
		if err == nil {
			return nil
		}
		if !retry {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("giving up after %d attempts: %w", mailAttempts, lastErr)
}

// post sends one sendMail request and reports whether a failure may be retried.
func (m *graphMailer) post(ctx context.Context, payload []byte) (retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.sendURL, bytes.NewReader(payload))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return true, fmt.Errorf("send request: %w", err)
	}
	defer util.SafeCloseFunc(resp.Body, "graph sendMail response")()

	switch {
	case resp.StatusCode < 300:
		return false, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		// Whole seconds only; the HTTP-date form is not used by Graph.
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			select {
			case <-time.After(time.Duration(secs) * time.Second):
			case <-ctx.Done():
			}
		}
		return true, graphError(resp)
	case resp.StatusCode >= 500:
		return true, graphError(resp)
	default:
		return false, graphError(resp)
	}
}

// checkMailbox acquires a token and looks up the sending mailbox.
func (m *graphMailer) checkMailbox(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.userURL, http.NoBody)
	if err != nil {
		return err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			return fmt.Errorf("token request rejected: %w", err)
		}
		return fmt.Errorf("mailbox lookup: %w", err)
	}
	defer util.SafeCloseFunc(resp.Body, "graph user response")()

	switch resp.StatusCode {
	// Mail.Send without User.Read.All yields 403 here, which still proves the token works.
	case http.StatusOK, http.StatusForbidden:
		return nil
	case http.StatusNotFound:
		return errors.New("sending mailbox does not exist")
	default:
		return graphError(resp)
	}
}

func graphError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("graph API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

// ValidateConfig checks the e-mail settings before a test mail is sent.
func ValidateConfig(cfg *types.GraphConfig) error {
	if err := checkCredentials(cfg, true); err != nil {
		return err
	}
	if cfg.FromAddress == "" {
		return errors.New("from address (shared mailbox) is required")
	}
	if len(ParseRecipients(cfg.Recipients)) == 0 {
		return errors.New("at least one recipient is required")
	}
	return nil
}

// mailReady reports whether every field needed to send mail is set.
func mailReady(cfg *types.GraphConfig) bool {
	return util.IsConfigured(cfg.TenantID, cfg.ClientID, cfg.ClientSecret, cfg.FromAddress, cfg.Recipients)
}

// ParseRecipients splits a comma-separated address list, dropping blanks.
func ParseRecipients(recipients string) []string {
	var result []string
	for r := range strings.SplitSeq(recipients, ",") {
		if r = strings.TrimSpace(r); r != "" {
			result = append(result, r)
		}
	}
	return result
}
