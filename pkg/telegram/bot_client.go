package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultAPIBase = "https://api.telegram.org"

type BotClient struct {
	token      string
	apiBase    string
	httpClient *http.Client
}

type sendMessageRequest struct {
	ChatID                int64  `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview,omitempty"`
}

type telegramAPIResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func NewBotClient(token string, httpClient *http.Client) *BotClient {
	client := httpClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	return &BotClient{
		token:      strings.TrimSpace(token),
		apiBase:    DefaultAPIBase,
		httpClient: client,
	}
}

// WithAPIBase points the client at another Bot API host, such as a local
// bot API server.
func (c *BotClient) WithAPIBase(base string) *BotClient {
	if c == nil {
		return nil
	}
	if trimmed := strings.TrimRight(strings.TrimSpace(base), "/"); trimmed != "" {
		c.apiBase = trimmed
	}
	return c
}

var markdownEscaper = strings.NewReplacer("_", `\_`, "*", `\*`, "`", "\\`", "[", `\[`)

// EscapeMarkdown makes s render literally under the legacy Markdown parse
// mode used by SendMarkdown.
func EscapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

func (c *BotClient) SendMessage(ctx context.Context, chatID int64, text string) error {
	return c.send(ctx, chatID, text, "")
}

func (c *BotClient) SendMarkdown(ctx context.Context, chatID int64, md string) error {
	return c.send(ctx, chatID, md, "Markdown")
}

func (c *BotClient) send(ctx context.Context, chatID int64, text string, parseMode string) error {
	if c == nil {
		return errors.New("telegram client is nil")
	}
	if strings.TrimSpace(c.token) == "" {
		return errors.New("telegram bot token is empty")
	}
	if chatID == 0 {
		return errors.New("chat id is required")
	}
	if strings.TrimSpace(text) == "" {
		return errors.New("message is empty")
	}

	body, err := json.Marshal(sendMessageRequest{
		ChatID:                chatID,
		Text:                  text,
		ParseMode:             parseMode,
		DisableWebPagePreview: true,
	})
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", c.apiBase, url.PathEscape(c.token))
	endpointURL, err := url.Parse(endpoint)
	if err != nil {
		return err
	}
	if endpointURL.Scheme != "https" && endpointURL.Scheme != "http" {
		return errors.New("invalid telegram api endpoint")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL.String(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	// #nosec G107 -- endpoint scheme is validated above and the host comes from config.
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var apiResp telegramAPIResponse
	if decodeErr := json.NewDecoder(resp.Body).Decode(&apiResp); decodeErr != nil {
		return decodeErr
	}

	if resp.StatusCode >= http.StatusBadRequest || !apiResp.OK {
		if apiResp.Description == "" {
			apiResp.Description = "telegram api request failed"
		}
		return fmt.Errorf("telegram api error: %s", apiResp.Description)
	}

	return nil
}
