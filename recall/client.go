package recall

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/room4-2/voicerelay/config"
)

const (
	defaultBotName = "Voice Assistant"
	botVariant     = "web_4_core"
	maxBodySize    = 1 << 20
)

var (
	ErrMeetingURLRequired = errors.New("meeting url is required")
	ErrNotConfigured      = errors.New("bot provisioning is not configured")
)

// APIError is a non-2xx answer from the provider. Body is passed on as is.
type APIError struct {
	StatusCode int
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("recall error (status %d): %s", e.StatusCode, strings.TrimSpace(string(e.Body)))
}

// BotRequest asks for a meeting bot that shows the voice client
type BotRequest struct {
	MeetingURL   string `json:"meeting_url"`
	BotName      string `json:"bot_name,omitempty"`
	WebsocketURL string `json:"websocket_url,omitempty"`
}

type Client struct {
	apiKey              string
	baseURL             string
	botClientURL        string
	defaultWebsocketURL string
	httpClient          *http.Client
}

func NewClient(cfg config.RecallConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		apiKey:              strings.TrimSpace(cfg.APIKey),
		baseURL:             strings.TrimRight(cfg.APIURL, "/"),
		botClientURL:        cfg.BotClientURL,
		defaultWebsocketURL: cfg.DefaultWebsocketURL,
		httpClient:          httpClient,
	}
}

func (c *Client) Configured() bool {
	return c != nil && c.apiKey != ""
}

type cameraConfig struct {
	URL string `json:"url"`
}

type botPayload struct {
	MeetingURL  string `json:"meeting_url"`
	BotName     string `json:"bot_name"`
	OutputMedia struct {
		Camera struct {
			Kind   string       `json:"kind"`
			Config cameraConfig `json:"config"`
		} `json:"camera"`
	} `json:"output_media"`
	Variant map[string]string `json:"variant"`
}

// webpageURL is the voice client page the bot renders, pointed at the relay
func (c *Client) webpageURL(websocketURL string) (string, error) {
	if websocketURL == "" {
		websocketURL = c.defaultWebsocketURL
	}
	u, err := url.Parse(c.botClientURL)
	if err != nil {
		return "", fmt.Errorf("parse bot client url: %w", err)
	}
	q := u.Query()
	q.Set("wss", websocketURL)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// CreateBot provisions a bot and returns the provider's JSON response.
// There is no retry.
func (c *Client) CreateBot(ctx context.Context, req BotRequest) ([]byte, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	if strings.TrimSpace(req.MeetingURL) == "" {
		return nil, ErrMeetingURLRequired
	}

	payload := botPayload{
		MeetingURL: req.MeetingURL,
		BotName:    req.BotName,
		Variant: map[string]string{
			"zoom":            botVariant,
			"google_meet":     botVariant,
			"microsoft_teams": botVariant,
		},
	}
	if payload.BotName == "" {
		payload.BotName = defaultBotName
	}
	pageURL, err := c.webpageURL(req.WebsocketURL)
	if err != nil {
		return nil, err
	}
	payload.OutputMedia.Camera.Kind = "webpage"
	payload.OutputMedia.Camera.Config.URL = pageURL

	body, err := sonic.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/bot/", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Token "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: respBody}
	}
	return respBody, nil
}
