package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/willianmendesf/whatsapp-sender/internal/errors"
	"github.com/willianmendesf/whatsapp-sender/internal/retry"
	"github.com/willianmendesf/whatsapp-sender/pkg/whatsapp/types"
)

const (
	defaultTimeout   = 30 * time.Second
	maxResponseBytes = 10 << 20
)

// ErrChatNotFound is returned when a chat id does not resolve to a chat the
// session can write to.
var ErrChatNotFound = errors.New("chat not found")

// WhatsAppClient talks to a WAHA server over its REST API
type WhatsAppClient struct {
	baseURL     string
	apiKey      string
	sessionName string
	client      *http.Client
	backoff     *retry.Backoff
}

// NewClient creates a WAHA client. Read-only calls are retried up to
// RetryCount times on retryable failures; sends are never retried.
func NewClient(config types.ClientConfig) types.WAClient {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	attempts := config.RetryCount
	if attempts <= 0 {
		attempts = 1
	}

	return &WhatsAppClient{
		baseURL:     strings.TrimRight(config.BaseURL, "/"),
		apiKey:      config.APIKey,
		sessionName: config.SessionName,
		client:      &http.Client{Timeout: timeout},
		backoff: retry.NewBackoff(retry.BackoffConfig{
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     5 * time.Second,
			Multiplier:   2.0,
			MaxAttempts:  attempts,
			Jitter:       true,
		}),
	}
}

func (c *WhatsAppClient) SessionName() string {
	return c.sessionName
}

func (c *WhatsAppClient) sessionPath(suffix string) string {
	return fmt.Sprintf("%s%s/%s%s", types.APIBase, types.EndpointSessions, url.PathEscape(c.sessionName), suffix)
}

func (c *WhatsAppClient) StartSession(ctx context.Context) error {
	err := c.doJSON(ctx, http.MethodPost, c.sessionPath(types.EndpointSessionStart), nil, nil)
	if err == nil {
		return nil
	}

	switch statusCode(err) {
	case http.StatusConflict, http.StatusUnprocessableEntity:
		// already started
		return nil
	case http.StatusNotFound:
		req := types.CreateSessionRequest{Name: c.sessionName, Start: true}
		if err := c.doJSON(ctx, http.MethodPost, types.APIBase+types.EndpointSessions, req, nil); err != nil {
			return fmt.Errorf("create session %s: %w", c.sessionName, err)
		}
		return nil
	}
	return fmt.Errorf("start session %s: %w", c.sessionName, err)
}

func (c *WhatsAppClient) GetSessionStatus(ctx context.Context) (*types.Session, error) {
	var session types.Session
	if err := c.getWithRetry(ctx, c.sessionPath(""), &session); err != nil {
		return nil, fmt.Errorf("get session status: %w", err)
	}
	return &session, nil
}

func (c *WhatsAppClient) LogoutSession(ctx context.Context) error {
	if err := c.doJSON(ctx, http.MethodPost, c.sessionPath(types.EndpointSessionLogout), nil, nil); err != nil {
		return fmt.Errorf("logout session %s: %w", c.sessionName, err)
	}
	return nil
}

func (c *WhatsAppClient) GetQRCode(ctx context.Context) ([]byte, string, error) {
	path := fmt.Sprintf("%s/%s%s?format=image", types.APIBase, url.PathEscape(c.sessionName), types.EndpointAuthQR)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "image/png")
	c.setAuth(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, "", apperrors.WrapRetryable(err, apperrors.ErrCodeWhatsAppAPI, "whatsapp API request failed").
			WithContext("endpoint", types.EndpointAuthQR)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read QR code: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, "", apiError(types.EndpointAuthQR, resp.StatusCode, body)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(body)
	}
	return body, contentType, nil
}

func (c *WhatsAppClient) SendText(ctx context.Context, chatID, text string, mentions []string) (*types.SendMessageResponse, error) {
	payload := types.SendMessageRequest{
		ChatID:   chatID,
		Text:     text,
		Session:  c.sessionName,
		Mentions: mentions,
	}

	var resp types.SendMessageResponse
	if err := c.doJSON(ctx, http.MethodPost, types.APIBase+types.EndpointSendText, payload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *WhatsAppClient) SendMedia(ctx context.Context, chatID string, media *types.MediaObject, caption string, mentions []string) (*types.SendMessageResponse, error) {
	if media == nil {
		return nil, fmt.Errorf("media is required")
	}

	endpoint := types.EndpointSendFile
	convert := false
	switch media.Kind {
	case "image":
		endpoint = types.EndpointSendImage
	case "audio":
		// WAHA converts non-opus audio to a voice note when asked to
		endpoint = types.EndpointSendVoice
		convert = true
	}

	payload := types.MediaMessageRequest{
		ChatID:  chatID,
		Session: c.sessionName,
		Caption: caption,
		File: types.FileData{
			Mimetype: media.Mimetype,
			Filename: media.Filename,
			Data:     media.Data,
		},
		Mentions: mentions,
		Convert:  convert,
	}

	var resp types.SendMessageResponse
	if err := c.doJSON(ctx, http.MethodPost, types.APIBase+endpoint, payload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *WhatsAppClient) GetChatByID(ctx context.Context, chatID string) (*types.Chat, error) {
	if strings.HasSuffix(chatID, types.GroupSuffix) {
		path := fmt.Sprintf("%s/%s%s/%s", types.APIBase, url.PathEscape(c.sessionName), types.EndpointGroups, url.PathEscape(chatID))
		var group types.GroupInfo
		if err := c.getWithRetry(ctx, path, &group); err != nil {
			if statusCode(err) == http.StatusNotFound {
				return nil, fmt.Errorf("%w: %s", ErrChatNotFound, chatID)
			}
			return nil, err
		}
		name := group.Subject
		if name == "" {
			name = group.Name
		}
		return &types.Chat{ID: chatID, Name: name, IsGroup: true}, nil
	}

	query := url.Values{}
	query.Set("phone", strings.TrimSuffix(chatID, types.IndividualSuffix))
	query.Set("session", c.sessionName)

	var exists types.CheckExistsResponse
	if err := c.getWithRetry(ctx, types.APIBase+types.EndpointContactExists+"?"+query.Encode(), &exists); err != nil {
		return nil, err
	}
	if !exists.NumberExists {
		return nil, fmt.Errorf("%w: %s", ErrChatNotFound, chatID)
	}
	return &types.Chat{ID: chatID}, nil
}

func (c *WhatsAppClient) GetContacts(ctx context.Context) ([]types.Contact, error) {
	query := url.Values{}
	query.Set("session", c.sessionName)

	var contacts []types.Contact
	if err := c.getWithRetry(ctx, types.APIBase+types.EndpointContactsAll+"?"+query.Encode(), &contacts); err != nil {
		return nil, fmt.Errorf("get contacts: %w", err)
	}
	return contacts, nil
}

func (c *WhatsAppClient) getWithRetry(ctx context.Context, path string, out interface{}) error {
	return c.backoff.RetryWithPredicate(ctx, func() error {
		return c.doJSON(ctx, http.MethodGet, path, nil, out)
	}, apperrors.IsRetryable)
}

func (c *WhatsAppClient) setAuth(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}
}

func (c *WhatsAppClient) doJSON(ctx context.Context, method, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	c.setAuth(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return apperrors.WrapRetryable(err, apperrors.ErrCodeWhatsAppAPI, "whatsapp API request failed").
			WithContext("endpoint", endpointOf(path))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= http.StatusMultipleChoices {
		return apiError(endpointOf(path), resp.StatusCode, respBody)
	}

	if out != nil && len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func endpointOf(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		return path[:i]
	}
	return path
}

func apiError(endpoint string, status int, body []byte) error {
	var errResp types.ErrorResponse
	_ = json.Unmarshal(body, &errResp)

	msg := errResp.Text()
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return apperrors.NewAPIError(endpoint, status, fmt.Errorf("status %d: %s", status, msg))
}

func statusCode(err error) int {
	appErr, ok := apperrors.As(err)
	if !ok {
		return 0
	}
	code, _ := appErr.Context["status_code"].(int)
	return code
}
