// Package detector decides whether retrieved markup is an anti-bot challenge.
package detector

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/stealthfetch/internal/fetch"
)

// DefaultKeywords are vendor and keyword signatures of common challenge pages.
var DefaultKeywords = []string{
	"captcha",
	"datadome",
	"hcaptcha",
	"recaptcha",
	"cloudflare",
	"turnstile",
	"challenges.cloudflare.com",
	"cf-challenge",
	"_cf_chl",
	"perimeterx",
	"px-captcha",
}

// DefaultSelectors match challenge widgets that survive keyword obfuscation.
var DefaultSelectors = []string{
	`iframe[src*="recaptcha"]`,
	`iframe[src*="hcaptcha"]`,
	`#challenge-form`,
	`.cf-turnstile`,
	`[data-sitekey]`,
}

// Keyword flags markup containing any configured pattern, ignoring case.
type Keyword struct {
	patterns [][]byte
}

// NewKeyword builds a keyword detector. Blank and duplicate patterns are dropped.
func NewKeyword(patterns []string) *Keyword {
	lowered := make([][]byte, 0, len(patterns))
	seen := make(map[string]struct{}, len(patterns))
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		lowered = append(lowered, []byte(p))
	}
	return &Keyword{patterns: lowered}
}

// Detect implements fetch.Detector.
func (k *Keyword) Detect(html string) fetch.Detection {
	if k == nil || html == "" || len(k.patterns) == 0 {
		return fetch.Detection{}
	}
	lower := bytes.ToLower([]byte(html))
	for _, p := range k.patterns {
		if bytes.Contains(lower, p) {
			return fetch.Detection{Found: true, Reason: "keyword:" + string(p)}
		}
	}
	return fetch.Detection{}
}

// Selector flags markup where any configured CSS selector matches.
type Selector struct {
	selectors []string
}

// NewSelector builds a selector detector.
func NewSelector(selectors []string) *Selector {
	out := make([]string, 0, len(selectors))
	for _, s := range selectors {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return &Selector{selectors: out}
}

// Detect implements fetch.Detector. Unparseable markup is not a challenge.
func (s *Selector) Detect(html string) fetch.Detection {
	if s == nil || html == "" || len(s.selectors) == 0 {
		return fetch.Detection{}
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return fetch.Detection{}
	}
	for _, sel := range s.selectors {
		if doc.Find(sel).Length() > 0 {
			return fetch.Detection{Found: true, Reason: "selector:" + sel}
		}
	}
	return fetch.Detection{}
}

// Chain runs detectors in order; the first positive result wins.
type Chain []fetch.Detector

// Detect implements fetch.Detector.
func (c Chain) Detect(html string) fetch.Detection {
	for _, d := range c {
		if d == nil {
			continue
		}
		if res := d.Detect(html); res.Found {
			return res
		}
	}
	return fetch.Detection{}
}

// NewDefault returns the keyword detector followed by the selector detector.
func NewDefault(keywords, selectors []string) Chain {
	if len(keywords) == 0 {
		keywords = DefaultKeywords
	}
	if len(selectors) == 0 {
		selectors = DefaultSelectors
	}
	return Chain{NewKeyword(keywords), NewSelector(selectors)}
}
