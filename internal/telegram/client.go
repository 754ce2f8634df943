// Package telegram is a small Telegram Bot API client covering what the API
// and the ops tool need: profile photos, the webhook and the command menu.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	DefaultAPIURL = "https://api.telegram.org"
	userAgent     = "kirakira-api/1.0"

	// maxPhotoBytes bounds a downloaded profile photo.
	maxPhotoBytes = 5 << 20
)

// Sentinel errors.
var (
	// ErrRateLimited is returned when the API keeps answering 429 after retries.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrUnauthorized is returned when the bot token is rejected.
	ErrUnauthorized = errors.New("bot token rejected")

	// ErrNoPhoto is returned when the user has no visible profile photo.
	ErrNoPhoto = errors.New("user has no profile photo")

	// ErrMissingToken is returned when the client is built without a bot token.
	ErrMissingToken = errors.New("missing telegram bot token")
)

// Client calls the Bot API for a single bot.
type Client struct {
	token      string
	apiURL     string
	httpClient *http.Client
	delays     []time.Duration

	// Latest profile photo file per user id.
	photos   map[int64]File
	photosMu sync.RWMutex
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRetryDelays sets the waits between retries after a 429.
func WithRetryDelays(delays ...time.Duration) Option {
	return func(c *Client) {
		c.delays = delays
	}
}

// NewClient creates a client for the bot identified by token.
func NewClient(token, apiURL string, opts ...Option) (*Client, error) {
	if token == "" {
		return nil, ErrMissingToken
	}
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	c := &Client{
		token:  token,
		apiURL: strings.TrimRight(apiURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		delays: []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second},
		photos: make(map[int64]File),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ProfilePhoto returns the file of the user's current profile photo in its
// largest size. Results are cached in memory.
func (c *Client) ProfilePhoto(ctx context.Context, userID int64) (File, error) {
	c.photosMu.RLock()
	if cached, ok := c.photos[userID]; ok {
		c.photosMu.RUnlock()
		return cached, nil
	}
	c.photosMu.RUnlock()

	var photos UserProfilePhotos
	err := c.call(ctx, "getUserProfilePhotos", map[string]any{"user_id": userID, "limit": 1}, &photos)
	if err != nil {
		return File{}, fmt.Errorf("fetching profile photos: %w", err)
	}
	if len(photos.Photos) == 0 || len(photos.Photos[0]) == 0 {
		return File{}, ErrNoPhoto
	}

	sizes := photos.Photos[0]
	largest := sizes[len(sizes)-1]

	var file File
	if err := c.call(ctx, "getFile", map[string]any{"file_id": largest.FileID}, &file); err != nil {
		return File{}, fmt.Errorf("fetching photo file: %w", err)
	}

	c.photosMu.Lock()
	c.photos[userID] = file
	c.photosMu.Unlock()

	return file, nil
}

// Download fetches the bytes of a file returned by getFile.
// The download URL embeds the bot token and must never reach a client.
func (c *Client) Download(ctx context.Context, file File) ([]byte, string, error) {
	reqURL := fmt.Sprintf("%s/file/bot%s/%s", c.apiURL, c.token, file.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, "", ctxErr
		}
		return nil, "", fmt.Errorf("downloading file: %w", redact(err, c.token))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("downloading file: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPhotoBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("reading file: %w", err)
	}
	if len(body) > maxPhotoBytes {
		return nil, "", fmt.Errorf("file exceeds %d bytes", maxPhotoBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(body)
	}
	return body, contentType, nil
}

// SetWebhook points the bot's updates at url. secret, when set, is echoed by
// Telegram in the X-Telegram-Bot-Api-Secret-Token header.
func (c *Client) SetWebhook(ctx context.Context, url, secret string) error {
	params := map[string]any{"url": url}
	if secret != "" {
		params["secret_token"] = secret
	}
	if err := c.call(ctx, "setWebhook", params, nil); err != nil {
		return fmt.Errorf("setting webhook: %w", err)
	}
	return nil
}

// SetMyCommands replaces the bot's command menu.
func (c *Client) SetMyCommands(ctx context.Context, commands []BotCommand) error {
	if err := c.call(ctx, "setMyCommands", map[string]any{"commands": commands}, nil); err != nil {
		return fmt.Errorf("setting commands: %w", err)
	}
	return nil
}

// call performs a Bot API method with retry on 429.
// Retries len(c.delays) times, waiting the longer of the configured delay and
// the server's retry_after.
func (c *Client) call(ctx context.Context, method string, params any, result any) error {
	payload, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encoding %s params: %w", method, err)
	}

	var lastErr error
	var retryAfter time.Duration

	for attempt := 0; attempt <= len(c.delays); attempt++ {
		// Wait before retry (skip on first attempt)
		if attempt > 0 {
			wait := max(c.delays[attempt-1], retryAfter)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}

		raw, after, err := c.doSingleRequest(ctx, method, payload)
		if err == nil {
			if result == nil {
				return nil
			}
			if err := json.Unmarshal(raw, result); err != nil {
				return fmt.Errorf("parsing %s result: %w", method, err)
			}
			return nil
		}

		if errors.Is(err, ErrRateLimited) {
			lastErr = err
			retryAfter = after
			continue
		}

		// Non-retryable error
		return err
	}

	return lastErr
}

func (c *Client) doSingleRequest(ctx context.Context, method string, payload []byte) (json.RawMessage, time.Duration, error) {
	reqURL := fmt.Sprintf("%s/bot%s/%s", c.apiURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, 0, ctxErr
		}
		return nil, 0, fmt.Errorf("executing request: %w", redact(err, c.token))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("reading response body: %w", err)
	}

	var apiResp apiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, 0, fmt.Errorf("parsing response (status %d): %w", resp.StatusCode, err)
	}
	if apiResp.OK {
		return apiResp.Result, 0, nil
	}

	switch apiResp.ErrorCode {
	case http.StatusTooManyRequests:
		var after time.Duration
		if apiResp.Parameters != nil {
			after = time.Duration(apiResp.Parameters.RetryAfter) * time.Second
		}
		return nil, after, ErrRateLimited
	case http.StatusUnauthorized:
		return nil, 0, ErrUnauthorized
	default:
		return nil, 0, fmt.Errorf("%s: API error %d: %s", method, apiResp.ErrorCode, apiResp.Description)
	}
}

// redact strips the bot token from transport errors, which quote the URL.
func redact(err error, token string) error {
	msg := err.Error()
	if !strings.Contains(msg, token) {
		return err
	}
	return errors.New(strings.ReplaceAll(msg, token, "<redacted>"))
}
