package fetch

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidRequest marks a request that can never succeed as submitted.
var ErrInvalidRequest = errors.New("invalid fetch request")

// ErrNoProxy is returned when proxying is requested but no pool is configured.
var ErrNoProxy = errors.New("proxy requested but no proxy pool is configured")

// Viewport is a browser window size in CSS pixels.
type Viewport struct {
	Width  int `json:"width" mapstructure:"width"`
	Height int `json:"height" mapstructure:"height"`
}

// String renders the viewport as WxH.
func (v Viewport) String() string {
	return fmt.Sprintf("%dx%d", v.Width, v.Height)
}

// IsZero reports whether no dimension was set.
func (v Viewport) IsZero() bool {
	return v.Width <= 0 || v.Height <= 0
}

// Request captures everything a caller may ask of a single fetch.
type Request struct {
	URL             string
	Headless        *bool
	WaitForSelector string
	SelectorTimeout time.Duration
	Screenshot      bool
	Retries         *int
	ExecutionID     string
	// Proxy pins this request to one proxy address without touching the pool.
	Proxy     string
	UseProxy  *bool
	Viewport  *Viewport
	UserAgent string
}

// Validate rejects requests that must not reach a browser session.
func (r Request) Validate() error {
	if strings.TrimSpace(r.URL) == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidRequest)
	}
	if r.Retries != nil && *r.Retries < 0 {
		return fmt.Errorf("%w: retries must be >= 0", ErrInvalidRequest)
	}
	if r.SelectorTimeout < 0 {
		return fmt.Errorf("%w: selector timeout must be >= 0", ErrInvalidRequest)
	}
	if r.Viewport != nil && r.Viewport.IsZero() {
		return fmt.Errorf("%w: viewport width and height must be > 0", ErrInvalidRequest)
	}
	return nil
}

// SessionConfig is the launch profile for one attempt. It is built fresh for
// every attempt and must not be modified afterwards.
type SessionConfig struct {
	Headless          bool
	Flags             []string
	Proxy             string
	Viewport          Viewport
	UserAgent         string
	NavigationTimeout time.Duration
	SessionTimeout    time.Duration
	ExecPath          string
}

// HasProxy reports whether a proxy address was assigned.
func (c SessionConfig) HasProxy() bool {
	return c.Proxy != ""
}

// Screenshot holds a captured PNG. A nil *Screenshot means none was taken.
type Screenshot struct {
	Data []byte
}

// NewScreenshot wraps raw bytes, returning nil for empty input.
func NewScreenshot(data []byte) *Screenshot {
	if len(data) == 0 {
		return nil
	}
	return &Screenshot{Data: append([]byte(nil), data...)}
}

// DecodeScreenshot parses a base64 payload as submitted over the API.
func DecodeScreenshot(encoded string) (*Screenshot, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, nil
	}
	if idx := strings.Index(encoded, ","); idx >= 0 && strings.HasPrefix(encoded, "data:") {
		encoded = encoded[idx+1:]
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}
	return NewScreenshot(data), nil
}

// Base64 returns the standard base64 encoding of the image.
func (s *Screenshot) Base64() string {
	if s == nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(s.Data)
}

// Detection is the result of inspecting markup for a challenge.
type Detection struct {
	Found  bool
	Reason string
}

// Outcome is the closed result of one fetch. Exactly one of *Success,
// *Challenge or *Failure is returned per request.
type Outcome interface {
	outcome()
	// Kind names the outcome for logs and metrics.
	Kind() string
}

// Success carries extracted markup from a page that was not challenged.
type Success struct {
	URL        string
	HTML       string
	Screenshot *Screenshot
	UserAgent  string
	Viewport   Viewport
	Attempts   int
}

// Challenge reports that an anti-bot page was served instead of content.
type Challenge struct {
	URL         string
	HTML        string
	Screenshot  *Screenshot
	Reason      string
	ExecutionID string
	UserAgent   string
	Viewport    Viewport
	Attempts    int
}

// Failure reports that every attempt failed. Err is the last attempt's message.
type Failure struct {
	URL      string
	Err      string
	Attempts int
}

func (*Success) outcome()   {}
func (*Challenge) outcome() {}
func (*Failure) outcome()   {}

// Kind implements Outcome.
func (*Success) Kind() string { return "success" }

// Kind implements Outcome.
func (*Challenge) Kind() string { return "challenge" }

// Kind implements Outcome.
func (*Failure) Kind() string { return "failure" }

// ChallengeNotice is the compact event emitted when a challenge artifact is stored.
type ChallengeNotice struct {
	ExecutionID   string    `json:"executionId"`
	URL           string    `json:"url"`
	Reason        string    `json:"reason"`
	CapturedAt    time.Time `json:"capturedAt"`
	HTMLLength    int       `json:"htmlLength"`
	HasScreenshot bool      `json:"hasScreenshot"`
}
