package detector

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/stealthfetch/internal/fetch"
)

func TestKeyword_DetectsEveryDefaultPatternIgnoringCase(t *testing.T) {
	t.Parallel()

	d := NewKeyword(DefaultKeywords)
	for _, kw := range DefaultKeywords {
		html := "<html><body>Please complete the " + strings.ToUpper(kw) + " check</body></html>"
		res := d.Detect(html)
		require.True(t, res.Found, "keyword %q", kw)
		require.Contains(t, res.Reason, "keyword:")
	}
}

func TestKeyword_CleanPage(t *testing.T) {
	t.Parallel()

	d := NewKeyword(DefaultKeywords)
	res := d.Detect(`<html><body><h1>Product</h1><p>Price: $10</p></body></html>`)
	require.False(t, res.Found)
	require.Empty(t, res.Reason)
}

func TestKeyword_EmptyInputs(t *testing.T) {
	t.Parallel()

	require.False(t, NewKeyword(nil).Detect("captcha").Found)
	require.False(t, NewKeyword([]string{" ", ""}).Detect("captcha").Found)
	require.False(t, NewKeyword(DefaultKeywords).Detect("").Found)
	var nilDetector *Keyword
	require.False(t, nilDetector.Detect("captcha").Found)
}

func TestKeyword_ReasonNamesFirstMatch(t *testing.T) {
	t.Parallel()

	d := NewKeyword([]string{"DataDome", "datadome", "captcha"})
	res := d.Detect("<script src=\"https://js.DATADOME.co/tags.js\"></script>")
	require.Equal(t, fetch.Detection{Found: true, Reason: "keyword:datadome"}, res)
}

func TestSelector_MatchesChallengeWidgets(t *testing.T) {
	t.Parallel()

	d := NewSelector(DefaultSelectors)
	tests := []struct {
		name string
		html string
		want bool
	}{
		{name: "recaptcha iframe", html: `<iframe src="https://www.google.com/recaptcha/api2/anchor"></iframe>`, want: true},
		{name: "challenge form", html: `<form id="challenge-form" action="/"></form>`, want: true},
		{name: "sitekey", html: `<div data-sitekey="abc"></div>`, want: true},
		{name: "plain page", html: `<div class="content"><p>hello</p></div>`, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, d.Detect(tt.html).Found)
		})
	}
}

func TestChain_FirstPositiveWins(t *testing.T) {
	t.Parallel()

	chain := NewDefault(nil, nil)
	res := chain.Detect(`<div class="cf-turnstile"></div>`)
	require.True(t, res.Found)
	require.Equal(t, "keyword:turnstile", res.Reason)

	res = NewDefault([]string{"nomatch"}, nil).Detect(`<form id="challenge-form"></form>`)
	require.Equal(t, "selector:#challenge-form", res.Reason)

	require.False(t, chain.Detect(`<p>welcome</p>`).Found)
	require.False(t, Chain{nil}.Detect("captcha").Found)
}
