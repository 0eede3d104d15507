package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/mod/semver"

	"github.com/oszuidwest/zwfm-levelmeter/internal/types"
	"github.com/oszuidwest/zwfm-levelmeter/internal/util"
)

const (
	releasesURL = "https://api.github.com/repos/oszuidwest/zwfm-levelmeter/releases/latest"

	releasePollInterval = 24 * time.Hour
	releaseFirstPoll    = 30 * time.Second // Leaves startup alone
	releaseTimeout      = 30 * time.Second
	releaseAttempts     = 3
)

// errTransient marks a failed release lookup that is worth retrying.
var errTransient = errors.New("release lookup temporarily failed")

// VersionChecker polls GitHub for the latest published release.
// It is safe for concurrent use.
type VersionChecker struct {
	apiURL  string
	client  *http.Client
	backoff *util.Backoff

	mu     sync.RWMutex
	latest string // Without "v" prefix, empty until a release was seen
	etag   string
}

// NewVersionChecker returns a checker for the level meter's releases.
func NewVersionChecker() *VersionChecker {
	return &VersionChecker{
		apiURL:  releasesURL,
		client:  &http.Client{Timeout: releaseTimeout},
		backoff: util.NewBackoff(time.Minute, 10*time.Minute),
	}
}

// Run polls once shortly after start and then daily until ctx is done.
func (vc *VersionChecker) Run(ctx context.Context) error {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in version checker", "panic", r)
		}
	}()

	wait := releaseFirstPoll
	for {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil
		}
		vc.poll(ctx)
		wait = releasePollInterval
	}
}

// poll looks up the latest release, retrying transient failures.
func (vc *VersionChecker) poll(ctx context.Context) {
	vc.backoff.Reset()
	for attempt := 1; ; attempt++ {
		err := vc.check(ctx)
		if err == nil {
			return
		}
		if !errors.Is(err, errTransient) || attempt == releaseAttempts {
			slog.Debug("version check failed", "attempt", attempt, "error", err)
			return
		}
		select {
		case <-time.After(vc.backoff.Next()):
		case <-ctx.Done():
			return
		}
	}
}

type githubRelease struct {
	TagName    string `json:"tag_name"`
	Draft      bool   `json:"draft"`
	Prerelease bool   `json:"prerelease"`
}

// check performs one conditional request for the latest release. Errors
// wrapping errTransient may succeed on a later attempt.
func (vc *VersionChecker) check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, vc.apiURL, http.NoBody)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "zwfm-levelmeter/"+Version)

	vc.mu.RLock()
	if vc.etag != "" {
		req.Header.Set("If-None-Match", vc.etag)
	}
	vc.mu.RUnlock()

	resp, err := vc.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", errTransient, err)
	}
	defer util.SafeCloseFunc(resp.Body, "release response body")()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotModified, resp.StatusCode == http.StatusNotFound:
		// Unchanged, or nothing released yet.
		return nil
	case resp.StatusCode == http.StatusForbidden, resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return fmt.Errorf("%w: HTTP %d", errTransient, resp.StatusCode)
	default:
		return fmt.Errorf("release lookup: HTTP %d", resp.StatusCode)
	}

	var rel githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return fmt.Errorf("%w: decode release: %w", errTransient, err)
	}
	if rel.Draft || rel.Prerelease {
		return nil
	}
	if rel.TagName == "" {
		return fmt.Errorf("%w: release without tag", errTransient)
	}

	vc.mu.Lock()
	defer vc.mu.Unlock()
	vc.latest = normalizeVersion(rel.TagName)
	if etag := resp.Header.Get("ETag"); etag != "" {
		vc.etag = etag
	}
	return nil
}

// Info returns the running and latest known version.
func (vc *VersionChecker) Info() types.VersionInfo {
	vc.mu.RLock()
	latest := vc.latest
	vc.mu.RUnlock()

	current := normalizeVersion(Version)
	info := types.VersionInfo{
		Current:   current,
		Latest:    latest,
		Commit:    Commit,
		BuildTime: util.FormatHumanTime(BuildTime),
	}
	// Development builds have no comparable version.
	if latest != "" && semver.IsValid("v"+current) {
		info.UpdateAvail = isNewerVersion(latest, current)
	}
	return info
}

func normalizeVersion(v string) string {
	return strings.TrimPrefix(strings.TrimSpace(v), "v")
}

// isNewerVersion reports whether latest sorts after current in semver order.
func isNewerVersion(latest, current string) bool {
	return semver.Compare("v"+normalizeVersion(latest), "v"+normalizeVersion(current)) > 0
}
