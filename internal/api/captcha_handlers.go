package api

import (
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/stealthfetch/internal/captcha"
	"github.com/JakeFAU/stealthfetch/internal/fetch"
)

type submitCaptchaBody struct {
	ExecutionID string          `json:"executionId"`
	HTML        string          `json:"html"`
	URL         string          `json:"url"`
	Screenshot  string          `json:"screenshot"`
	UserAgent   string          `json:"userAgent"`
	Viewport    *fetch.Viewport `json:"viewport"`
	Reason      string          `json:"reason"`
}

type captchaInfo struct {
	ExecutionID   string          `json:"executionId"`
	URL           string          `json:"url"`
	Timestamp     time.Time       `json:"timestamp"`
	HasScreenshot bool            `json:"hasScreenshot"`
	HTMLLength    int             `json:"htmlLength"`
	UserAgent     string          `json:"userAgent,omitempty"`
	Viewport      *fetch.Viewport `json:"viewport,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	Source        string          `json:"source"`
}

type captchaSummary struct {
	ExecutionID string    `json:"executionId"`
	URL         string    `json:"url"`
	Timestamp   time.Time `json:"timestamp"`
	// Age is in whole seconds.
	Age int64 `json:"age"`
}

type captchaList struct {
	Count    int              `json:"count"`
	Captchas []captchaSummary `json:"captchas"`
}

func (s *Server) submitCaptcha(w http.ResponseWriter, r *http.Request) {
	var body submitCaptchaBody
	if status, msg := decodeBody(r, &body); status != 0 {
		s.writeError(w, status, msg)
		return
	}
	body.ExecutionID = strings.TrimSpace(body.ExecutionID)
	body.URL = strings.TrimSpace(body.URL)
	if body.ExecutionID == "" || body.HTML == "" || body.URL == "" {
		s.writeError(w, http.StatusBadRequest, "executionId, html and url are required")
		return
	}
	if body.Viewport != nil && body.Viewport.IsZero() {
		s.writeError(w, http.StatusBadRequest, "viewport width and height must be > 0")
		return
	}
	shot, err := fetch.DecodeScreenshot(body.Screenshot)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.store.Put(captcha.Record{
		ExecutionID: body.ExecutionID,
		HTML:        body.HTML,
		URL:         body.URL,
		Screenshot:  shot,
		UserAgent:   strings.TrimSpace(body.UserAgent),
		Viewport:    body.Viewport,
		Reason:      strings.TrimSpace(body.Reason),
		Source:      captcha.SourceSubmitted,
	})
	s.logger.Info("captcha artifact submitted",
		zap.String("execution_id", body.ExecutionID),
		zap.String("url", body.URL),
		zap.Bool("has_screenshot", shot != nil),
	)
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "executionId": body.ExecutionID})
}

func (s *Server) getCaptchaHTML(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "executionId")
	rec, ok := s.store.Get(id)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_, _ = fmt.Fprintf(w, notFoundPage, html.EscapeString(id))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(rec.HTML))
}

const notFoundPage = `<!DOCTYPE html>
<html><head><title>Captcha not found</title></head>
<body><h1>Captcha not found</h1><p>No challenge is stored for execution %s. It may have expired.</p></body></html>
`

func (s *Server) getCaptchaInfo(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "executionId")
	rec, ok := s.store.Get(id)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "captcha not found"})
		return
	}
	s.writeJSON(w, http.StatusOK, captchaInfo{
		ExecutionID:   rec.ExecutionID,
		URL:           rec.URL,
		Timestamp:     rec.CapturedAt,
		HasScreenshot: rec.Screenshot != nil,
		HTMLLength:    len(rec.HTML),
		UserAgent:     rec.UserAgent,
		Viewport:      rec.Viewport,
		Reason:        rec.Reason,
		Source:        rec.Source,
	})
}

func (s *Server) getCaptchaScreenshot(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.store.Get(chi.URLParam(r, "executionId"))
	if !ok || rec.Screenshot == nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "screenshot not found"})
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(rec.Screenshot.Data)
}

func (s *Server) listCaptchas(w http.ResponseWriter, _ *http.Request) {
	entries := s.store.List()
	out := captchaList{Count: len(entries), Captchas: make([]captchaSummary, 0, len(entries))}
	for _, e := range entries {
		out.Captchas = append(out.Captchas, captchaSummary{
			ExecutionID: e.ExecutionID,
			URL:         e.URL,
			Timestamp:   e.CapturedAt,
			Age:         int64(e.Age / time.Second),
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) deleteCaptcha(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "executionId")
	removed := s.store.Delete(id)
	s.writeJSON(w, http.StatusOK, map[string]any{"success": removed, "executionId": id})
}
