// Package backend is the REST client for the chat server.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/matheus3301/chatsync/internal/model"
)

const defaultTimeout = 10 * time.Second

// ErrUnauthorized matches a *StatusError with code 401.
var ErrUnauthorized = errors.New("backend: unauthorized")

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend: %s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// Is lets errors.Is(err, ErrUnauthorized) match 401 responses.
func (e *StatusError) Is(target error) bool {
	return target == ErrUnauthorized && e.Code == http.StatusUnauthorized
}

// TokenSource yields the bearer token for each request.
type TokenSource interface {
	Token() (string, error)
}

// StaticToken is a TokenSource that always returns itself.
type StaticToken string

// Token returns t unchanged.
func (t StaticToken) Token() (string, error) { return string(t), nil }

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout bounds every request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// Client calls the chat server's REST API under baseURL, e.g.
// http://host:8000/api.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
	userAgent  string
}

// New creates a client.
func New(baseURL string, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokens:     tokens,
		httpClient: &http.Client{Timeout: defaultTimeout},
		userAgent:  "chatsync",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// UploadResult is the server's answer to a file upload.
type UploadResult struct {
	FileID       model.ID `json:"file_id"`
	URL          string   `json:"url"`
	ThumbnailURL string   `json:"thumbnail_url"`
}

// Rooms lists the rooms the user belongs to.
func (c *Client) Rooms(ctx context.Context) ([]model.Room, error) {
	var rooms []model.Room
	if err := c.getJSON(ctx, "/chat/rooms", nil, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

// Messages fetches the most recent limit messages of a room.
func (c *Client) Messages(ctx context.Context, roomID model.ID, limit int) ([]model.Message, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var msgs []model.Message
	if err := c.getJSON(ctx, "/chat/rooms/"+url.PathEscape(string(roomID))+"/messages", q, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// Sync returns every message the user can see with an id after lastID.
func (c *Client) Sync(ctx context.Context, lastID model.ID) ([]model.Message, error) {
	q := url.Values{"last_id": {string(lastID)}}
	var msgs []model.Message
	if err := c.getJSON(ctx, "/chat/sync", q, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// MarkRead records read receipts for ids in roomID.
func (c *Client) MarkRead(ctx context.Context, roomID model.ID, ids []model.ID) error {
	body := struct {
		RoomID     model.ID   `json:"room_id"`
		MessageIDs []model.ID `json:"message_ids"`
	}{roomID, ids}
	return c.doJSON(ctx, http.MethodPost, "/chat/read", body, nil)
}

// Me returns the authenticated user.
func (c *Client) Me(ctx context.Context) (*model.User, error) {
	var u model.User
	if err := c.getJSON(ctx, "/users/me", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// SearchUsers finds users by name.
func (c *Client) SearchUsers(ctx context.Context, query string) ([]model.User, error) {
	var users []model.User
	if err := c.getJSON(ctx, "/users/search", url.Values{"q": {query}}, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// CreateRoom creates a room with the given members. For direct rooms the
// server returns the existing room when one already exists.
func (c *Client) CreateRoom(ctx context.Context, typ model.RoomType, memberIDs []model.ID) (*model.Room, error) {
	body := struct {
		Type      model.RoomType `json:"type"`
		MemberIDs []model.ID     `json:"member_ids"`
	}{typ, memberIDs}
	var room model.Room
	if err := c.doJSON(ctx, http.MethodPost, "/chat/rooms", body, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// Upload sends a file to roomID as multipart form data.
func (c *Client) Upload(ctx context.Context, roomID model.ID, name, mimeType string, data []byte) (*UploadResult, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("room_id", string(roomID)); err != nil {
		return nil, fmt.Errorf("write room_id field: %w", err)
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	if mimeType != "" {
		h.Set("Content-Type", mimeType)
	} else {
		h.Set("Content-Type", "application/octet-stream")
	}
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("create file part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("write file part: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/chat/upload", nil, &buf, w.FormDataContentType())
	if err != nil {
		return nil, err
	}
	var result UploadResult
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("decode upload response: %w", err)
	}
	return &result, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	data, err := c.do(ctx, http.MethodGet, path, query, nil, "")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	data, err := c.do(ctx, method, path, nil, bytes.NewReader(b), "application/json")
	if err != nil {
		return err
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if c.tokens != nil {
		token, err := c.tokens.Token()
		if err != nil {
			return nil, fmt.Errorf("backend token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return data, nil
}
