package generator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func fakeServer(t *testing.T, text string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":` + jsonQuote(text) + `}]}}]}`))
	}))
}

func jsonQuote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		case '\\':
			b.WriteString(`\\`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

func TestRespondReturnsWithinBand(t *testing.T) {
	body := strings.Repeat("mesh radios are neat. ", 15) // > 300 chars
	srv := fakeServer(t, body)
	defer srv.Close()

	c := New(Config{Endpoint: srv.URL, Model: "gemini-test", APIKey: "k"})
	out, err := c.Respond(context.Background(), "tell me about radios")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if len(out) > maxChars {
		t.Fatalf("expected output clipped to %d chars, got %d", maxChars, len(out))
	}
}

func TestRespondRetriesOnFailureThenSucceeds(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"` + strings.Repeat("ok ", 80) + `"}]}}]}`))
	}))
	defer srv.Close()

	c := New(Config{Endpoint: srv.URL, Model: "gemini-test", APIKey: "k"})
	out, err := c.Respond(context.Background(), "ping")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if out == "" {
		t.Fatalf("expected non-empty response")
	}
	if atomic.LoadInt32(&attempts) < 2 {
		t.Fatalf("expected at least 2 attempts, got %d", attempts)
	}
}

func TestRespondFailsAfterExhaustingRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(Config{Endpoint: srv.URL, Model: "gemini-test", APIKey: "k"})
	if _, err := c.Respond(context.Background(), "ping"); err == nil {
		t.Fatalf("expected error after exhausting retries")
	}
}

func TestTrimToMaxCharsBreaksAtSentenceBoundary(t *testing.T) {
	text := strings.Repeat("a", 550) + ". " + strings.Repeat("b", 100)
	out := trimToMaxChars(text)
	if len(out) > maxChars {
		t.Fatalf("trimmed text exceeds maxChars: %d", len(out))
	}
	if strings.HasSuffix(out, "b") {
		t.Fatalf("expected trim at sentence boundary, not mid-run-on: %q", out[len(out)-20:])
	}
}

func TestTrimToMaxCharsHardCutWithoutBoundary(t *testing.T) {
	text := strings.Repeat("x", 700)
	out := trimToMaxChars(text)
	if len(out) > maxChars {
		t.Fatalf("expected hard cut at maxChars, got %d", len(out))
	}
}

func TestCleanWhitespaceCollapsesRuns(t *testing.T) {
	got := cleanWhitespace("hello   \n\n  world  \t!")
	if got != "hello world !" {
		t.Fatalf("unexpected cleaned text: %q", got)
	}
}

func TestDisableSSLVerifyScopedToClientTransport(t *testing.T) {
	before := http.DefaultTransport
	c := New(Config{Endpoint: "https://example.invalid", DisableSSLVerify: true})
	if http.DefaultTransport != before {
		t.Fatalf("DisableSSLVerify must not mutate http.DefaultTransport")
	}
	tr, ok := c.httpClient.Transport.(*http.Transport)
	if !ok || tr.TLSClientConfig == nil || !tr.TLSClientConfig.InsecureSkipVerify {
		t.Fatalf("expected client's own transport to have InsecureSkipVerify set")
	}
}
