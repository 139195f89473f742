// Package meeting issues video-conference rooms for booked slots.
package meeting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrAlreadyExists means a room with the requested id was created earlier.
// Callers treat it as success.
var ErrAlreadyExists = errors.New("meeting already exists")

// AlreadyExistsError is ErrAlreadyExists carrying the existing room when the
// provider could tell us where it is. Meeting is nil otherwise.
type AlreadyExistsError struct {
	Meeting *Meeting
}

func (e *AlreadyExistsError) Error() string {
	if e.Meeting == nil || e.Meeting.URL == "" {
		return ErrAlreadyExists.Error()
	}
	return fmt.Sprintf("%s: %s", ErrAlreadyExists, e.Meeting.URL)
}

func (e *AlreadyExistsError) Is(target error) bool {
	return target == ErrAlreadyExists
}

// ExistingMeeting returns the room an already-exists error points at, or nil
// when the error does not carry one.
func ExistingMeeting(err error) *Meeting {
	var e *AlreadyExistsError
	if errors.As(err, &e) && e.Meeting != nil && e.Meeting.URL != "" {
		return e.Meeting
	}
	return nil
}

// alreadyExistsSignature is the fragment providers put in the error message
// when a room name is taken.
const alreadyExistsSignature = "already exists"

// IsAlreadyExists reports whether err is the provider's idempotent-create
// error, either as ErrAlreadyExists or by its known message signature.
func IsAlreadyExists(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAlreadyExists) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), alreadyExistsSignature)
}

type Params struct {
	Title    string
	StartsAt time.Time
	EndsAt   time.Time
}

type Meeting struct {
	ID  string
	URL string
}

type Provisioner interface {
	CreateMeeting(ctx context.Context, id string, p Params) (*Meeting, error)
}

// LinkProvisioner derives a room URL from a base URL without calling out.
// Rooms on hosts such as Jitsi exist as soon as someone joins them.
type LinkProvisioner struct {
	BaseURL string
}

func (l LinkProvisioner) CreateMeeting(_ context.Context, id string, _ Params) (*Meeting, error) {
	if id == "" {
		return nil, errors.New("meeting id is required")
	}
	return &Meeting{ID: id, URL: strings.TrimRight(l.BaseURL, "/") + "/" + url.PathEscape(id)}, nil
}

// HTTPProvisioner creates rooms through a JSON REST API:
// POST {BaseURL}/rooms {"name","title","starts_at","ends_at"} -> {"name","url"},
// GET {BaseURL}/rooms/{name} -> {"name","url"}.
type HTTPProvisioner struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

func NewHTTPProvisioner(baseURL, apiKey string, timeout time.Duration) *HTTPProvisioner {
	return &HTTPProvisioner{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

type createRoomRequest struct {
	Name     string    `json:"name"`
	Title    string    `json:"title,omitempty"`
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
}

type createRoomResponse struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type errorResponse struct {
	Error string `json:"error"`
	Info  string `json:"info"`
}

func (h *HTTPProvisioner) CreateMeeting(ctx context.Context, id string, p Params) (*Meeting, error) {
	body, err := json.Marshal(createRoomRequest{Name: id, Title: p.Title, StartsAt: p.StartsAt, EndsAt: p.EndsAt})
	if err != nil {
		return nil, fmt.Errorf("marshal room request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.BaseURL+"/rooms", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create room request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.APIKey)
	}

	status, raw, err := h.do(req)
	if err != nil {
		return nil, err
	}

	if status == http.StatusConflict {
		// A previous attempt may have created the room and timed out before
		// reading the answer. Recover its url so the link is not lost.
		if m, err := decodeRoom(raw, id); err == nil {
			return nil, &AlreadyExistsError{Meeting: m}
		}
		m, err := h.getRoom(ctx, id)
		if err != nil {
			return nil, &AlreadyExistsError{}
		}
		return nil, &AlreadyExistsError{Meeting: m}
	}
	if status < 200 || status >= 300 {
		return nil, providerError(status, raw)
	}
	return decodeRoom(raw, id)
}

func (h *HTTPProvisioner) getRoom(ctx context.Context, id string) (*Meeting, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.BaseURL+"/rooms/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, fmt.Errorf("get room request: %w", err)
	}
	if h.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.APIKey)
	}
	status, raw, err := h.do(req)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, providerError(status, raw)
	}
	return decodeRoom(raw, id)
}

func (h *HTTPProvisioner) do(req *http.Request) (int, []byte, error) {
	resp, err := h.HTTPClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("call meeting provider: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return 0, nil, fmt.Errorf("read provider response: %w", err)
	}
	return resp.StatusCode, raw, nil
}

func providerError(status int, raw []byte) error {
	var e errorResponse
	_ = json.Unmarshal(raw, &e)
	msg := strings.TrimSpace(e.Info + " " + e.Error)
	if msg == "" {
		msg = strings.TrimSpace(string(raw))
	}
	return fmt.Errorf("meeting provider returned %d: %s", status, msg)
}

func decodeRoom(raw []byte, id string) (*Meeting, error) {
	var out createRoomResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode provider response: %w", err)
	}
	if out.URL == "" {
		return nil, errors.New("meeting provider returned no url")
	}
	if out.Name == "" {
		out.Name = id
	}
	return &Meeting{ID: out.Name, URL: out.URL}, nil
}
