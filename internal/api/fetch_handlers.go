package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/stealthfetch/internal/fetch"
)

const (
	msgMissingURL = "Missing url in body"
	msgChallenge  = "CAPTCHA or anti-bot detected"
)

// fetchBody is the JSON body accepted by /html and /screenshot.
type fetchBody struct {
	URL             string          `json:"url"`
	Target          string          `json:"target"`
	Headless        *bool           `json:"headless"`
	WaitForSelector string          `json:"waitForSelector"`
	SelectorTimeout *intField       `json:"selectorTimeout"`
	Screenshot      *bool           `json:"screenshot"`
	Retries         *intField       `json:"retries"`
	ExecutionID     string          `json:"executionId"`
	Proxy           string          `json:"proxy"`
	UseProxy        *bool           `json:"useProxy"`
	UserAgent       string          `json:"userAgent"`
	Viewport        *fetch.Viewport `json:"viewport"`
}

type successResponse struct {
	Success    bool            `json:"success"`
	URL        string          `json:"url"`
	HTML       string          `json:"html"`
	Screenshot string          `json:"screenshot,omitempty"`
	UserAgent  string          `json:"userAgent,omitempty"`
	Viewport   *fetch.Viewport `json:"viewport,omitempty"`
	Attempts   int             `json:"attempts"`
}

type challengeResponse struct {
	Success     bool   `json:"success"`
	Captcha     bool   `json:"captcha"`
	Error       string `json:"error"`
	Reason      string `json:"reason,omitempty"`
	CaptchaHTML string `json:"captchaHtml"`
	Screenshot  string `json:"screenshot,omitempty"`
	ExecutionID string `json:"executionId,omitempty"`
	URL         string `json:"url"`
}

func (s *Server) fetchHTML(w http.ResponseWriter, r *http.Request) {
	s.handleFetch(w, r, false)
}

func (s *Server) fetchScreenshot(w http.ResponseWriter, r *http.Request) {
	s.handleFetch(w, r, true)
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request, screenshotByDefault bool) {
	var body fetchBody
	if status, msg := decodeBody(r, &body); status != 0 {
		s.writeError(w, status, msg)
		return
	}

	req := body.request(r, screenshotByDefault)
	if req.URL == "" {
		s.writeError(w, http.StatusBadRequest, msgMissingURL)
		return
	}

	outcome, err := s.fetcher.Fetch(r.Context(), req)
	if err != nil {
		if errors.Is(err, fetch.ErrInvalidRequest) || errors.Is(err, fetch.ErrNoProxy) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("fetch failed", zap.String("request_id", RequestID(r.Context())), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	switch o := outcome.(type) {
	case *fetch.Success:
		resp := successResponse{
			Success:    true,
			URL:        o.URL,
			HTML:       o.HTML,
			Screenshot: o.Screenshot.Base64(),
			UserAgent:  o.UserAgent,
			Attempts:   o.Attempts,
		}
		if !o.Viewport.IsZero() {
			vp := o.Viewport
			resp.Viewport = &vp
		}
		s.writeJSON(w, http.StatusOK, resp)
	case *fetch.Challenge:
		s.writeJSON(w, http.StatusConflict, challengeResponse{
			Captcha:     true,
			Error:       msgChallenge,
			Reason:      o.Reason,
			CaptchaHTML: o.HTML,
			Screenshot:  o.Screenshot.Base64(),
			ExecutionID: o.ExecutionID,
			URL:         o.URL,
		})
	case *fetch.Failure:
		s.writeError(w, http.StatusInternalServerError, o.Err)
	default:
		s.writeError(w, http.StatusInternalServerError, "unexpected fetch outcome")
	}
}

// request maps the body onto a fetch.Request. The query parameter "url" is
// consulted when the body names no target.
func (b fetchBody) request(r *http.Request, screenshotByDefault bool) fetch.Request {
	target := strings.TrimSpace(b.URL)
	if target == "" {
		target = strings.TrimSpace(b.Target)
	}
	if target == "" {
		target = strings.TrimSpace(r.URL.Query().Get("url"))
	}
	screenshot := screenshotByDefault
	if b.Screenshot != nil {
		screenshot = *b.Screenshot
	}
	var retries *int
	if b.Retries != nil {
		n := int(*b.Retries)
		retries = &n
	}
	var selectorTimeout time.Duration
	if b.SelectorTimeout != nil {
		selectorTimeout = time.Duration(*b.SelectorTimeout) * time.Millisecond
	}
	return fetch.Request{
		URL:             target,
		Headless:        b.Headless,
		WaitForSelector: strings.TrimSpace(b.WaitForSelector),
		SelectorTimeout: selectorTimeout,
		Screenshot:      screenshot,
		Retries:         retries,
		ExecutionID:     strings.TrimSpace(b.ExecutionID),
		Proxy:           strings.TrimSpace(b.Proxy),
		UseProxy:        b.UseProxy,
		Viewport:        b.Viewport,
		UserAgent:       strings.TrimSpace(b.UserAgent),
	}
}

// intField decodes a JSON integer or a string holding one, so "retries": "3"
// and "retries": 3 are equivalent.
type intField int64

func (f *intField) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		return nil
	}
	if unquoted, err := strconv.Unquote(raw); err == nil {
		raw = strings.TrimSpace(unquoted)
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("expected an integer, got %s", data)
	}
	*f = intField(n)
	return nil
}

// decodeBody reads a JSON object into dst. An empty body is accepted. It
// returns a non-zero status and message when the body is unusable.
func decodeBody(r *http.Request, dst any) (int, string) {
	if r.Body == nil {
		return 0, ""
	}
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return 0, ""
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge, "request body too large"
	}
	return http.StatusBadRequest, "invalid JSON body"
}
