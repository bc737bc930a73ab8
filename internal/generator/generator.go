// Package generator implements the text-generation client: calling an
// external HTTP text-generation endpoint (a Gemini-style API) with retry,
// backoff, response length shaping, and a per-client (not process-global)
// TLS verification switch.
package generator

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hlnode/meshgem-proxy/internal/metrics"
)

const (
	maxRetries  = 3
	retryDelay  = 1 * time.Second
	minChars    = 200
	maxChars    = 600
	idealLow    = 250
	idealHigh   = 450
	requestTO   = 30 * time.Second
	brevityNote = "Keep the reply concise, ideally between 250 and 450 characters, suitable for a radio text message."
)

var ErrEmptyResponse = errors.New("generator: empty response from model")

// Config configures a Client.
type Config struct {
	APIKey           string
	Endpoint         string // base URL, e.g. "https://generativelanguage.googleapis.com"
	Model            string // e.g. "gemini-2.5-flash"
	DisableSSLVerify bool
}

// Client talks to the text-generation backend. Its *http.Transport is
// scoped to this client only: a DisableSSLVerify opt-in never mutates
// http.DefaultTransport or any process-wide TLS state.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// New constructs a Client with its own http.Transport.
func New(cfg Config) *Client {
	transport := &http.Transport{}
	if cfg.DisableSSLVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Transport: transport, Timeout: requestTO},
	}
}

type generateRequest struct {
	Contents         []content `json:"contents"`
	GenerationConfig genConfig `json:"generationConfig"`
}

type content struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type genConfig struct {
	Temperature     float64 `json:"temperature"`
	TopP            float64 `json:"topP"`
	TopK            int     `json:"topK"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// Respond generates a reply to prompt, retrying up to maxRetries times with
// linear backoff (retryDelay * attempt), then shaping the result into the
// [minChars, maxChars] band (expanding once if too short, trimming at a
// sentence boundary if too long).
func (c *Client) Respond(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		text, err := c.callOnce(ctx, prompt)
		if err == nil {
			shaped, shapeErr := c.ensureLengthBounds(ctx, prompt, text)
			if shapeErr != nil {
				shaped = text
			}
			metrics.IncGeneratorCall(true)
			metrics.GeneratorLatency.Observe(time.Since(start).Seconds())
			return shaped, nil
		}
		lastErr = err
		if attempt < maxRetries {
			select {
			case <-ctx.Done():
				metrics.IncGeneratorCall(false)
				return "", ctx.Err()
			case <-time.After(retryDelay * time.Duration(attempt)):
			}
		}
	}
	metrics.IncGeneratorCall(false)
	return "", fmt.Errorf("generator: exhausted %d retries: %w", maxRetries, lastErr)
}

func (c *Client) callOnce(ctx context.Context, prompt string) (string, error) {
	reqBody := generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: prompt}}}},
		GenerationConfig: genConfig{
			Temperature:     0.6,
			TopP:            0.8,
			TopK:            40,
			MaxOutputTokens: 200,
		},
	}
	raw, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", c.cfg.Endpoint, c.cfg.Model, c.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("generator: status %d: %s", resp.StatusCode, string(body))
	}

	var parsed generateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", err
	}
	return extractText(parsed)
}

func extractText(resp generateResponse) (string, error) {
	for _, cand := range resp.Candidates {
		for _, p := range cand.Content.Parts {
			if strings.TrimSpace(p.Text) != "" {
				return cleanWhitespace(p.Text), nil
			}
		}
	}
	return "", ErrEmptyResponse
}

// cleanWhitespace collapses runs of ASCII whitespace to single spaces and
// trims the ends, matching the upstream normalization step.
func cleanWhitespace(s string) string {
	return strings.Join(strings.FieldsFunc(s, func(r rune) bool {
		switch r {
		case ' ', '\t', '\n', '\v', '\f', '\r':
			return true
		}
		return false
	}), " ")
}

// ensureLengthBounds expands a too-short reply with one follow-up call, or
// trims a too-long one at the latest sentence boundary within maxChars.
func (c *Client) ensureLengthBounds(ctx context.Context, basePrompt, text string) (string, error) {
	if len(text) < minChars {
		expandPrompt := fmt.Sprintf("%s\n\nYour previous answer was:\n%s\n\n%s Expand your previous answer to between %d and %d characters.", basePrompt, text, brevityNote, idealLow, idealHigh)
		expanded, err := c.callOnce(ctx, expandPrompt)
		if err == nil && len(expanded) >= minChars {
			text = expanded
		}
	}
	if len(text) > maxChars {
		text = trimToMaxChars(text)
	}
	return text, nil
}

// trimToMaxChars cuts text to at most maxChars, preferring to break at the
// rightmost sentence-ish boundary (". ", "! ", "? ", "\n", " - ") found
// within the cutoff window; falls back to a hard cut if none is found.
func trimToMaxChars(text string) string {
	if len(text) <= maxChars {
		return text
	}
	window := text[:maxChars]
	boundaries := []string{". ", "! ", "? ", "\n", " - "}
	best := -1
	for _, b := range boundaries {
		if idx := strings.LastIndex(window, b); idx > best {
			best = idx + len(b)
		}
	}
	if best > 0 {
		return strings.TrimSpace(window[:best])
	}
	return strings.TrimSpace(window)
}
