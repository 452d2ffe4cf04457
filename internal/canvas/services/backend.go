package services

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

	"github.com/kaptinlin/jsonrepair"
)

// Backend is the translate-service contract. A real implementation may be
// swapped in via HTTPBackend; MockBackend is the deterministic fallback
// used when no external backend is configured or reachable.
type Backend interface {
	Translate(ctx context.Context, text, to, from string) (string, error)
}

// MockBackend is the deterministic `"[LANG] original text"` stub.
type MockBackend struct{}

func (MockBackend) Translate(_ context.Context, text, to, _ string) (string, error) {
	return fmt.Sprintf("[%s] %s", strings.ToUpper(to), text), nil
}

// HTTPBackend calls an external translation service over HTTP: a small
// JSON request/response pair over a configurable base URL.
type HTTPBackend struct {
	BaseURL string
	Client  *http.Client
}

type translateRequest struct {
	Text string `json:"text"`
	To   string `json:"to"`
	From string `json:"from,omitempty"`
}

type translateResponse struct {
	Translated string `json:"translated"`
}

func (b *HTTPBackend) Translate(ctx context.Context, text, to, from string) (string, error) {
	if b.BaseURL == "" {
		return "", errors.New("services: no external translate backend configured")
	}
	client := b.Client
	if client == nil {
		client = &http.Client{Timeout: 3 * time.Second}
	}
	body, err := json.Marshal(translateRequest{Text: text, To: to, From: from})
	if err != nil {
		return "", fmt.Errorf("services: encode translate request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.BaseURL+"/translate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("services: build translate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("services: translate backend unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("services: translate backend returned %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("services: read translate response: %w", err)
	}
	var out translateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		// Translate backends are frequently LLM-backed and return sloppy
		// JSON (trailing commas, single quotes, fenced blocks); repair
		// before giving up.
		repaired, rerr := jsonrepair.JSONRepair(string(raw))
		if rerr != nil {
			return "", fmt.Errorf("services: decode translate response: %w", err)
		}
		if err := json.Unmarshal([]byte(repaired), &out); err != nil {
			return "", fmt.Errorf("services: decode translate response: %w", err)
		}
	}
	return out.Translated, nil
}

// FallbackBackend tries Primary first (if configured) and falls back to
// Fallback on any error.
type FallbackBackend struct {
	Primary  Backend
	Fallback Backend
}

func (f FallbackBackend) Translate(ctx context.Context, text, to, from string) (string, error) {
	if f.Primary != nil {
		if out, err := f.Primary.Translate(ctx, text, to, from); err == nil {
			return out, nil
		}
	}
	return f.Fallback.Translate(ctx, text, to, from)
}

// TranslateHandler adapts a Backend into a Handler for job-kind "translate".
func TranslateHandler(backend Backend) Handler {
	return func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		text, _ := params["text"].(string)
		to, _ := params["to"].(string)
		from, _ := params["from"].(string)
		if strings.TrimSpace(text) == "" {
			return nil, errors.New("translate: text is required")
		}
		if strings.TrimSpace(to) == "" {
			return nil, errors.New("translate: to is required")
		}
		return backend.Translate(ctx, text, to, from)
	}
}
