// ABOUTME: REST/JSON reference implementation of the RemoteClient boundary.
// ABOUTME: Talks to /v1/auth and /v1/tables endpoints with api-key plus bearer auth.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// HTTPRemote implements RemoteClient over REST/JSON.
type HTTPRemote struct {
	baseURL        string
	apiKey         string
	installationID string
	hc             *http.Client
}

// HTTPRemoteOptions configures an HTTPRemote.
type HTTPRemoteOptions struct {
	BaseURL string
	APIKey  string
	// InstallationID identifies this installation to the remote service.
	// Generated when empty.
	InstallationID string
	Timeout        time.Duration
}

// NewHTTPRemote builds a client for the given endpoint.
func NewHTTPRemote(opts HTTPRemoteOptions) *HTTPRemote {
	baseURL := strings.TrimSuffix(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	to := opts.Timeout
	if to == 0 {
		to = 15 * time.Second
	}
	installID := opts.InstallationID
	if installID == "" {
		installID = ulid.Make().String()
	}
	return &HTTPRemote{
		baseURL:        baseURL,
		apiKey:         opts.APIKey,
		installationID: installID,
		hc:             &http.Client{Timeout: to},
	}
}

// InstallationID returns the identifier sent with auth requests.
func (c *HTTPRemote) InstallationID() string { return c.installationID }

type authResponse struct {
	UserID       string `json:"user_id"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresUnix  int64  `json:"expires_unix"`
}

func (r authResponse) session() Session {
	expires := time.Unix(r.ExpiresUnix, 0).UTC()
	if r.ExpiresUnix == 0 {
		expires = tokenExpiry(r.AccessToken)
	}
	return Session{
		UserID:       r.UserID,
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		ExpiresAt:    expires,
	}
}

// SignUp creates an account and returns the initial session.
func (c *HTTPRemote) SignUp(ctx context.Context, email, password string) (Session, error) {
	return c.authCall(ctx, "sign_up", "/v1/auth/signup", map[string]string{
		"email":           strings.TrimSpace(email),
		"password":        password,
		"installation_id": c.installationID,
	})
}

// SignIn authenticates with email/password.
func (c *HTTPRemote) SignIn(ctx context.Context, email, password string) (Session, error) {
	return c.authCall(ctx, "sign_in", "/v1/auth/signin", map[string]string{
		"email":           strings.TrimSpace(email),
		"password":        password,
		"installation_id": c.installationID,
	})
}

// RefreshSession exchanges a refresh token for a new session. The token
// rotates: the response carries a new refresh token and the old one is dead.
func (c *HTTPRemote) RefreshSession(ctx context.Context, refreshToken string) (Session, error) {
	if refreshToken == "" {
		return Session{}, &OpError{Op: "refresh", Err: ErrNoCredential}
	}
	return c.authCall(ctx, "refresh", "/v1/auth/refresh", map[string]string{
		"refresh_token":   refreshToken,
		"installation_id": c.installationID,
	})
}

// SignOut revokes the current session server-side.
func (c *HTTPRemote) SignOut(ctx context.Context, accessToken string) error {
	resp, err := c.do(ctx, http.MethodPost, "/v1/auth/signout", accessToken, nil)
	if err != nil {
		return &OpError{Op: "sign_out", Err: ErrNoNetwork, Detail: err.Error()}
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return &OpError{Op: "sign_out", Err: ErrRemoteRejected, Detail: decodeErrorBody(resp)}
	}
	return nil
}

// UpdateAuthEmail changes the auth-provider email for the session holder.
func (c *HTTPRemote) UpdateAuthEmail(ctx context.Context, accessToken, email string) error {
	body := map[string]string{"email": strings.TrimSpace(email)}
	resp, err := c.do(ctx, http.MethodPatch, "/v1/auth/user", accessToken, body)
	if err != nil {
		return &OpError{Op: "update_auth_email", Err: ErrNoNetwork, Detail: err.Error()}
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return &OpError{Op: "update_auth_email", Err: ErrRemoteRejected, Detail: decodeErrorBody(resp)}
	}
	return nil
}

// FetchRow reads a single row by id.
func (c *HTTPRemote) FetchRow(ctx context.Context, table, id string) (json.RawMessage, error) {
	path := fmt.Sprintf("/v1/tables/%s/%s", url.PathEscape(table), url.PathEscape(id))
	resp, err := c.do(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		return nil, &OpError{Op: "fetch_row", Err: ErrNoNetwork, Detail: err.Error()}
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, &OpError{Op: "fetch_row", Err: ErrRemoteRejected, Detail: decodeErrorBody(resp)}
	}
	var row json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&row); err != nil {
		return nil, &OpError{Op: "fetch_row", Err: ErrDecode, Detail: err.Error()}
	}
	return row, nil
}

// UpdateRow patches fields of a single row.
func (c *HTTPRemote) UpdateRow(ctx context.Context, table, id string, fields map[string]any) error {
	path := fmt.Sprintf("/v1/tables/%s/%s", url.PathEscape(table), url.PathEscape(id))
	resp, err := c.do(ctx, http.MethodPatch, path, "", fields)
	if err != nil {
		return &OpError{Op: "update_row", Err: ErrNoNetwork, Detail: err.Error()}
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return &OpError{Op: "update_row", Err: ErrRemoteRejected, Detail: decodeErrorBody(resp)}
	}
	return nil
}

// QueryRows reads all rows of table matching the query.
func (c *HTTPRemote) QueryRows(ctx context.Context, table string, q Query) ([]json.RawMessage, error) {
	vals := url.Values{}
	for col, v := range q.Filter {
		vals.Set(col, v)
	}
	if q.OrderBy != "" {
		dir := "asc"
		if q.Descending {
			dir = "desc"
		}
		vals.Set("order", q.OrderBy+"."+dir)
	}
	path := "/v1/tables/" + url.PathEscape(table)
	if enc := vals.Encode(); enc != "" {
		path += "?" + enc
	}
	resp, err := c.do(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		return nil, &OpError{Op: "query_rows", Err: ErrNoNetwork, Detail: err.Error()}
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, &OpError{Op: "query_rows", Err: ErrRemoteRejected, Detail: decodeErrorBody(resp)}
	}
	var rows []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, &OpError{Op: "query_rows", Err: ErrDecode, Detail: err.Error()}
	}
	return rows, nil
}

func (c *HTTPRemote) authCall(ctx context.Context, op, path string, body map[string]string) (Session, error) {
	resp, err := c.do(ctx, http.MethodPost, path, "", body)
	if err != nil {
		return Session{}, &OpError{Op: op, Err: ErrNoNetwork, Detail: err.Error()}
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return Session{}, &OpError{Op: op, Err: ErrRemoteRejected, Detail: decodeErrorBody(resp)}
	}
	var out authResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Session{}, &OpError{Op: op, Err: ErrDecode, Detail: err.Error()}
	}
	return out.session(), nil
}

func (c *HTTPRemote) do(ctx context.Context, method, path, accessToken string, body any) (*http.Response, error) {
	var reader *bytes.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(buf)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	req.Header.Set("X-Request-ID", ulid.Make().String())

	return c.hc.Do(req)
}

func decodeErrorBody(resp *http.Response) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Error == "" {
		return resp.Status
	}
	return body.Error
}
