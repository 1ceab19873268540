package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/jrsteele09/artvinci-web/credentials"
	"github.com/rs/zerolog/log"
)

// PathProfile is the backend endpoint describing the current user.
const PathProfile = "/auth/me/"

// StatusError is a non-2xx backend response read by the JSON helpers.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Body)
}

// ProfileUpdater stores a profile fetched from the backend.
type ProfileUpdater interface {
	UpdateProfile(ctx context.Context, profile credentials.Profile) (credentials.Profile, error)
}

// Client sends requests to the backend API through a Transport.
type Client struct {
	baseURL   *url.URL
	transport *Transport
	profiles  ProfileUpdater
}

// NewClient creates a client for the API rooted at baseURL.
func NewClient(baseURL string, transport *Transport) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("[apiclient NewClient] base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("[apiclient NewClient] base url %q must be absolute", baseURL)
	}

	c := &Client{baseURL: u, transport: transport}
	if updater, ok := transport.Identity.(ProfileUpdater); ok {
		c.profiles = updater
	}
	return c, nil
}

// URL resolves path against the API base URL.
func (c *Client) URL(path string) string {
	u := *c.baseURL
	rel, err := url.Parse(path)
	if err != nil {
		u.Path += "/" + strings.TrimLeft(path, "/")
		return u.String()
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(rel.Path, "/")
	u.RawQuery = rel.RawQuery
	return u.String()
}

// NewRequest builds a request for path on the backend.
func (c *Client) NewRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.URL(path), body)
	if err != nil {
		return nil, fmt.Errorf("[apiclient NewRequest] %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// Send runs req through the pipeline. See Transport.RoundTrip for the error
// contract; non-401 statuses are returned as responses.
func (c *Client) Send(req *http.Request) (*http.Response, error) {
	return c.transport.RoundTrip(req)
}

// GetJSON fetches path and decodes the JSON body into out.
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	return c.SendJSON(ctx, http.MethodGet, path, nil, out)
}

// SendJSON sends in as JSON (when non-nil) and decodes the response into out
// (when non-nil). Non-2xx responses become a StatusError.
func (c *Client) SendJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("[apiclient SendJSON] marshal: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := c.NewRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.Send(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("[apiclient SendJSON] decode %s: %w", path, err)
	}
	return nil
}

// backendUser is the backend's description of the current user.
type backendUser struct {
	ID        any    `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role"`
}

func (u backendUser) profile() credentials.Profile {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	var roles []string
	if u.Role != "" {
		roles = []string{u.Role}
	}
	return credentials.Profile{
		ID:          idString(u.ID),
		Username:    u.Username,
		Email:       u.Email,
		DisplayName: name,
		Roles:       credentials.NormalizeRoles(roles),
	}
}

// idString renders numeric and string IDs alike.
func idString(id any) string {
	switch v := id.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// FetchProfile asks the backend who the current user is and folds the
// answer into the stored profile snapshot.
func (c *Client) FetchProfile(ctx context.Context) (credentials.Profile, error) {
	var user backendUser
	if err := c.GetJSON(ctx, PathProfile, &user); err != nil {
		return credentials.Profile{}, err
	}

	profile := user.profile()
	if c.profiles == nil {
		return profile, nil
	}

	stored, err := c.profiles.UpdateProfile(ctx, profile)
	if err != nil {
		log.Warn().Err(err).Msg("Unable to store backend profile")
		return profile, nil
	}
	return stored, nil
}
