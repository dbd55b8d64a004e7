package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"odisea.app/cloud/internal/logger"
	"odisea.app/cloud/internal/metrics"
)

const (
	requestTimeout = 10 * time.Second
	maxResponse    = 1 << 20
)

type Request struct {
	Text       string `json:"text"`
	TargetLang string `json:"targetLang"`
	SourceLang string `json:"sourceLang,omitempty"`
}

type Result struct {
	TranslatedText string `json:"translatedText"`
	Success        bool   `json:"success"`
}

type providerRequest struct {
	Q      string `json:"q"`
	Source string `json:"source"`
	Target string `json:"target"`
	Format string `json:"format"`
	APIKey string `json:"api_key,omitempty"`
}

type providerResponse struct {
	TranslatedText string `json:"translatedText"`
}

// Client proxies to a LibreTranslate-compatible service. It never fails a
// translation outright: on any provider problem the caller gets the
// original text back with Success false.
type Client struct {
	baseURL       string
	apiKey        string
	defaultSource string
	httpClient    *http.Client
	cache         Cache
}

func New(baseURL, apiKey, defaultSource string, cache Cache) *Client {
	if defaultSource == "" {
		defaultSource = "es"
	}
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		apiKey:        apiKey,
		defaultSource: defaultSource,
		httpClient:    &http.Client{Timeout: requestTimeout},
		cache:         cache,
	}
}

func (c *Client) Translate(ctx context.Context, req Request) Result {
	sourceLang := req.SourceLang
	if strings.TrimSpace(sourceLang) == "" {
		sourceLang = c.defaultSource
	}
	source := ProviderCode(sourceLang)
	target := ProviderCode(req.TargetLang)

	if strings.TrimSpace(req.Text) == "" || source == target {
		metrics.TranslationsTotal.WithLabelValues("passthrough").Inc()
		return Result{TranslatedText: req.Text, Success: true}
	}

	key := cacheKey(source, target, req.Text)
	if c.cache != nil {
		cached, ok, err := c.cache.Get(ctx, key)
		if err != nil {
			logger.Warn("Translation cache read failed", map[string]interface{}{"error": err.Error()})
		} else if ok {
			metrics.TranslationsTotal.WithLabelValues("cached").Inc()
			return Result{TranslatedText: cached, Success: true}
		}
	}

	translated, err := c.call(ctx, source, target, req.Text)
	if err != nil {
		metrics.TranslationsTotal.WithLabelValues("failed").Inc()
		logger.Warn("Translation failed, returning original text", map[string]interface{}{
			"source": source,
			"target": target,
			"error":  err.Error(),
		})
		return Result{TranslatedText: req.Text, Success: false}
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, key, translated); err != nil {
			logger.Warn("Translation cache write failed", map[string]interface{}{"error": err.Error()})
		}
	}
	metrics.TranslationsTotal.WithLabelValues("translated").Inc()
	return Result{TranslatedText: translated, Success: true}
}

func (c *Client) call(ctx context.Context, source, target, text string) (string, error) {
	if c.baseURL == "" {
		return "", errors.New("translation provider not configured")
	}

	body, err := json.Marshal(providerRequest{
		Q:      text,
		Source: source,
		Target: target,
		Format: "text",
		APIKey: c.apiKey,
	})
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/translate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	var out providerResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponse)).Decode(&out); err != nil {
		return "", fmt.Errorf("malformed provider response: %w", err)
	}
	if out.TranslatedText == "" {
		return "", errors.New("provider returned no translation")
	}
	return out.TranslatedText, nil
}
