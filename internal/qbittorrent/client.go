package qbittorrent

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/raainshe/qbitdash/internal/logging"
	"github.com/raainshe/qbitdash/internal/metrics"
)

// WebUI endpoints
const (
	pathLogin    = "api/v2/auth/login"
	pathMainData = "api/v2/sync/maindata"
	pathTrackers = "api/v2/torrents/trackers"
)

// maxBodySize caps how much of a response is read
const maxBodySize = 64 << 20

// SessionStore keeps one session cookie per instance
type SessionStore interface {
	Get(instanceID int64) (string, bool)
	Store(instanceID int64, cookie string, ttl time.Duration)
	Invalidate(instanceID int64)
}

// Client talks to any number of qBittorrent WebUIs, one session per instance
type Client struct {
	httpClient *http.Client
	sessions   SessionStore
	sessionTTL time.Duration
	timeout    time.Duration
	logger     *logging.Logger
}

// ClientOption represents a configuration option for the qBittorrent client
type ClientOption func(*Client)

// WithTimeout sets the per-request timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithSessionTTL sets how long a fresh login is trusted
func WithSessionTTL(ttl time.Duration) ClientOption {
	return func(c *Client) {
		c.sessionTTL = ttl
	}
}

// NewClient creates a new qBittorrent API client
func NewClient(sessions SessionStore, options ...ClientOption) *Client {
	client := &Client{
		// Cookies are managed per instance through the session store, not a jar
		httpClient: &http.Client{},
		sessions:   sessions,
		sessionTTL: time.Hour,
		timeout:    1500 * time.Millisecond,
		logger:     logging.GetSyncLogger(),
	}

	for _, option := range options {
		option(client)
	}

	return client
}

// Authenticate logs in to the instance and caches the resulting session cookie
func (c *Client) Authenticate(ctx context.Context, inst Instance) (string, error) {
	endpoint, err := endpointURL(inst, pathLogin, nil)
	if err != nil {
		return "", &AuthError{Instance: inst.Name, Reason: err.Error()}
	}

	form := url.Values{}
	form.Set("username", inst.User)
	form.Set("password", inst.Pass)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", &AuthError{Instance: inst.Name, Reason: err.Error()}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Referer", inst.URL)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.Authentications.WithLabelValues(inst.Key(), metrics.ResultTransport).Inc()
		return "", newTransportError(inst.Name, "login", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		metrics.Authentications.WithLabelValues(inst.Key(), metrics.ResultTransport).Inc()
		return "", newTransportError(inst.Name, "login", err)
	}

	authErr := &AuthError{Instance: inst.Name, Status: resp.StatusCode}
	cookie := sessionCookie(resp)
	switch {
	case !isSuccess(resp.StatusCode):
		authErr.Reason = "login rejected"
	case strings.TrimSpace(string(body)) == "Fails.":
		authErr.Reason = "credentials rejected"
	case cookie == "":
		authErr.Reason = "no session cookie in response"
	default:
		authErr = nil
	}
	if authErr != nil {
		metrics.Authentications.WithLabelValues(inst.Key(), metrics.ResultAuth).Inc()
		return "", authErr
	}

	c.sessions.Store(inst.ID, cookie, c.sessionTTL)
	metrics.Authentications.WithLabelValues(inst.Key(), metrics.ResultSuccess).Inc()

	c.logger.WithInstance(inst.ID, inst.Name).Debug("Authenticated with qBittorrent")
	return cookie, nil
}

// FetchDelta requests /sync/maindata starting at rid, logging in first when
// there is no valid session and once more if the session is rejected
func (c *Client) FetchDelta(ctx context.Context, inst Instance, rid int64) (*MainData, error) {
	var data *MainData

	err := c.withSession(ctx, inst, "sync", func(cookie string) (int, error) {
		query := url.Values{}
		query.Set("rid", strconv.FormatInt(rid, 10))

		body, status, err := c.get(ctx, inst, "sync", pathMainData, query, cookie)
		if err != nil || !isSuccess(status) {
			return status, err
		}

		parsed, err := ParseMainData(body, rid)
		if err != nil {
			return status, &SyncError{Instance: inst.Name, Op: "sync", Status: status, Err: err}
		}
		data = parsed
		return status, nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.WithFields(map[string]interface{}{
		"instance_id": inst.ID,
		"rid":         rid,
		"next_rid":    data.RID,
		"kind":        data.Kind.String(),
		"torrents":    len(data.Torrents),
	}).Debug("Fetched maindata")

	return data, nil
}

// Trackers lists the trackers of one torrent
func (c *Client) Trackers(ctx context.Context, inst Instance, hash string) ([]TorrentTracker, error) {
	var trackers []TorrentTracker

	err := c.withSession(ctx, inst, "trackers", func(cookie string) (int, error) {
		query := url.Values{}
		query.Set("hash", hash)

		body, status, err := c.get(ctx, inst, "trackers", pathTrackers, query, cookie)
		if err != nil || !isSuccess(status) {
			return status, err
		}

		if err := json.Unmarshal(body, &trackers); err != nil {
			return status, &SyncError{Instance: inst.Name, Op: "trackers", Status: status, Err: fmt.Errorf("%w: %v", ErrInvalidPayload, err)}
		}
		return status, nil
	})
	if err != nil {
		return nil, err
	}
	return trackers, nil
}

// get performs one GET with the session cookie. Non-2xx statuses are returned without error.
func (c *Client) get(ctx context.Context, inst Instance, op, path string, query url.Values, cookie string) ([]byte, int, error) {
	endpoint, err := endpointURL(inst, path, query)
	if err != nil {
		return nil, 0, &SyncError{Instance: inst.Name, Op: op, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, &SyncError{Instance: inst.Name, Op: op, Err: err}
	}
	req.Header.Set("Cookie", cookie)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, newTransportError(inst.Name, op, err)
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		// Drain so the connection can be reused
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, resp.StatusCode, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, resp.StatusCode, newTransportError(inst.Name, op, err)
	}
	return body, resp.StatusCode, nil
}

// sessionCookie joins the cookies set by a login response into a Cookie header value
func sessionCookie(resp *http.Response) string {
	cookies := resp.Cookies()
	parts := make([]string, 0, len(cookies))
	for _, cookie := range cookies {
		if cookie.Name == "" {
			continue
		}
		parts = append(parts, cookie.Name+"="+cookie.Value)
	}
	return strings.Join(parts, "; ")
}

func endpointURL(inst Instance, path string, query url.Values) (string, error) {
	base, err := url.Parse(inst.URL)
	if err != nil {
		return "", fmt.Errorf("invalid instance url %q: %w", inst.URL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return "", fmt.Errorf("invalid instance url %q: scheme must be http or https", inst.URL)
	}

	endpoint := base.JoinPath(path)
	if query != nil {
		endpoint.RawQuery = query.Encode()
	}
	return endpoint.String(), nil
}

func isSuccess(status int) bool {
	return status >= 200 && status <= 299
}
