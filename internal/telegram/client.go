package telegram

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Client wraps one bot credential. The rest of the system only ever talks
// through Send/SendFile and the endpoint registration calls, so the
// transport stays swappable.
type Client struct {
	api *tgbotapi.BotAPI
}

func NewClient(token string) (*Client, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}
	return &Client{api: api}, nil
}

// Identity returns the bot's own id and username as known to Telegram.
func (c *Client) Identity() (int64, string) {
	return c.api.Self.ID, c.api.Self.UserName
}

func (c *Client) Send(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	_, err := c.api.Send(msg)
	return err
}

func (c *Client) SendFile(chatID int64, path, caption string) error {
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FilePath(path))
	doc.Caption = caption
	_, err := c.api.Send(doc)
	return err
}

// RegisterEndpoint points the credential's inbound delivery at url.
func (c *Client) RegisterEndpoint(url string) error {
	wh, err := tgbotapi.NewWebhook(url)
	if err != nil {
		return err
	}
	_, err = c.api.Request(wh)
	return err
}

func (c *Client) UnregisterEndpoint() error {
	_, err := c.api.Request(tgbotapi.DeleteWebhookConfig{})
	return err
}

// RegisterEndpoint registers url for an arbitrary credential, used when the
// caller holds only the token (tenant finalize, sweep deactivation).
func RegisterEndpoint(token, url string) error {
	c, err := NewClient(token)
	if err != nil {
		return err
	}
	return c.RegisterEndpoint(url)
}

func UnregisterEndpoint(token string) error {
	c, err := NewClient(token)
	if err != nil {
		return err
	}
	return c.UnregisterEndpoint()
}
