// Package provider implements the translation provider client: a chat
// completions call with retry, backoff, and error classification.
package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	app_errors "lingo-sync/internal/errors"
	"lingo-sync/internal/httpclient"
	"lingo-sync/internal/types"
	"lingo-sync/internal/utils"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const maxResponseBodySize = 4 * 1024 * 1024

// Request is one translation to perform.
type Request struct {
	Text       string
	SourceLang string
	TargetLang string
	Context    string
}

// Result is a successful provider translation.
type Result struct {
	TargetText string
	Model      string
	Attempts   int
}

// SettingsProvider supplies the current pipeline settings snapshot.
type SettingsProvider interface {
	GetSettings() types.SystemSettings
}

// Client calls the translation provider. Each Translate call retries
// transient and rate-limit failures up to the configured attempt ceiling
// with capped exponential backoff; quota and client errors short-circuit.
type Client struct {
	settings      SettingsProvider
	configManager types.ConfigManager
	clientManager *httpclient.HTTPClientManager
}

// NewClient creates a provider client.
func NewClient(settings SettingsProvider, configManager types.ConfigManager, clientManager *httpclient.HTTPClientManager) *Client {
	return &Client{
		settings:      settings,
		configManager: configManager,
		clientManager: clientManager,
	}
}

// Translate performs one translation, retrying per the error taxonomy.
// The returned error is a *Error for provider failures, or the context error
// when the caller cancelled.
func (c *Client) Translate(ctx context.Context, req Request) (*Result, error) {
	settings := c.settings.GetSettings()

	payload, err := c.buildPayload(req, settings)
	if err != nil {
		return nil, &Error{Kind: KindEncoding, Message: "failed to build provider payload: " + err.Error()}
	}

	httpClient := c.clientManager.GetClient(
		httpclient.DefaultConfig(time.Duration(settings.ProviderTimeoutSeconds) * time.Second))

	maxAttempts := settings.ProviderMaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	backoffCap := time.Duration(settings.ProviderBackoffCapSeconds) * time.Second

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := c.doRequest(ctx, httpClient, settings, payload)
		if err == nil {
			result.Attempts = attempt
			return result, nil
		}
		lastErr = err

		pe, ok := err.(*Error)
		if !ok || !pe.Retryable() || attempt == maxAttempts {
			return nil, lastErr
		}

		delay := backoffDelay(attempt, backoffCap)
		if pe.Kind == KindRateLimit && pe.RetryAfter > 0 {
			delay = time.Duration(pe.RetryAfter) * time.Second
			if delay > backoffCap {
				delay = backoffCap
			}
		}

		logrus.WithFields(logrus.Fields{
			"attempt": attempt,
			"kind":    pe.Kind,
			"delay":   delay,
		}).Warn("Provider call failed, retrying")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, lastErr
}

func (c *Client) buildPayload(req Request, settings types.SystemSettings) ([]byte, error) {
	system := fmt.Sprintf(
		"You are a professional translator. Translate the user's text from %s to %s. "+
			"Domain: %s. Tone: %s. Reply with the translation only, no explanations.",
		req.SourceLang, req.TargetLang, settings.TranslationDomain, settings.TranslationTone)
	if req.Context != "" {
		system += " Context: " + req.Context
	}

	payload := []byte(`{}`)
	var err error
	if payload, err = sjson.SetBytes(payload, "model", settings.ProviderModel); err != nil {
		return nil, err
	}
	if payload, err = sjson.SetBytes(payload, "temperature", settings.ProviderTemperature); err != nil {
		return nil, err
	}
	if payload, err = sjson.SetBytes(payload, "messages.0.role", "system"); err != nil {
		return nil, err
	}
	if payload, err = sjson.SetBytes(payload, "messages.0.content", system); err != nil {
		return nil, err
	}
	if payload, err = sjson.SetBytes(payload, "messages.1.role", "user"); err != nil {
		return nil, err
	}
	if payload, err = sjson.SetBytes(payload, "messages.1.content", req.Text); err != nil {
		return nil, err
	}

	// Operator-supplied overrides are merged last and win over the defaults.
	if overrides := strings.TrimSpace(settings.ProviderParamOverrides); overrides != "" && overrides != "{}" {
		parsed := gjson.Parse(overrides)
		if !parsed.IsObject() {
			return nil, fmt.Errorf("provider_param_overrides is not a JSON object")
		}
		for key, value := range parsed.Map() {
			if payload, err = sjson.SetRawBytes(payload, key, []byte(value.Raw)); err != nil {
				return nil, err
			}
		}
	}
	return payload, nil
}

func (c *Client) doRequest(ctx context.Context, httpClient *http.Client, settings types.SystemSettings, payload []byte) (*Result, error) {
	url := strings.TrimSuffix(settings.ProviderBaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &Error{Kind: KindClientError, Message: err.Error()}
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept-Encoding", "gzip, br, zstd, deflate")
	if apiKey := c.configManager.GetProviderAuth().APIKey; apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return nil, classifyTransportError(err)
	}
	body, err := utils.DecompressResponse(resp.Header.Get("Content-Encoding"), rawBody)
	if err != nil {
		return nil, &Error{Kind: KindTransient, Message: "failed to decompress response: " + err.Error()}
	}

	if resp.StatusCode != http.StatusOK {
		errType := gjson.GetBytes(body, "error.type").String()
		if errType == "" {
			errType = gjson.GetBytes(body, "error.code").String()
		}
		return nil, classifyHTTPError(resp.StatusCode, errType, app_errors.ParseUpstreamError(body), parseRetryAfter(resp))
	}

	content := gjson.GetBytes(body, "choices.0.message.content").String()
	if strings.TrimSpace(content) == "" {
		return nil, &Error{
			Kind:       KindEmptyResponse,
			StatusCode: resp.StatusCode,
			Message:    "provider returned no translation content",
		}
	}

	return &Result{
		TargetText: strings.TrimSpace(content),
		Model:      gjson.GetBytes(body, "model").String(),
	}, nil
}

// backoffDelay returns the capped exponential delay for an attempt, starting
// at one second.
func backoffDelay(attempt int, maxDelay time.Duration) time.Duration {
	if attempt > 30 {
		attempt = 30
	}
	delay := time.Duration(1<<uint(attempt-1)) * time.Second
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

func parseRetryAfter(resp *http.Response) int {
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds > 0 {
		return seconds
	}
	return 0
}
