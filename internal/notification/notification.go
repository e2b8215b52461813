// Package notification delivers alerts about signal lifecycle events.
// Delivery is fire-and-forget: providers log failures and the caller
// never blocks on them.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Provider is one delivery channel.
type Provider interface {
	Name() string
	IsEnabled() bool
	SendText(ctx context.Context, text string) error
	SendPhoto(ctx context.Context, caption, photoPath string) error
}

// Manager fans one message out to every enabled provider.
type Manager struct {
	providers []Provider
	logger    zerolog.Logger
}

// NewManager creates a notification manager.
func NewManager(logger zerolog.Logger) *Manager {
	return &Manager{
		logger: logger.With().Str("component", "notification").Logger(),
	}
}

// AddProvider registers a delivery channel.
func (m *Manager) AddProvider(p Provider) {
	m.providers = append(m.providers, p)
}

// Send delivers text to every enabled provider. Failures are logged per
// provider and never returned.
func (m *Manager) Send(ctx context.Context, text string) {
	for _, p := range m.providers {
		if !p.IsEnabled() {
			continue
		}
		if err := p.SendText(ctx, text); err != nil {
			m.logger.Warn().Err(err).Str("provider", p.Name()).Msg("notification delivery failed")
		}
	}
}

// SendPhoto delivers an image with a caption. Providers without photo
// support fall back to text.
func (m *Manager) SendPhoto(ctx context.Context, caption, photoPath string) {
	for _, p := range m.providers {
		if !p.IsEnabled() {
			continue
		}
		if err := p.SendPhoto(ctx, caption, photoPath); err != nil {
			m.logger.Warn().Err(err).Str("provider", p.Name()).Msg("photo delivery failed, sending text only")
			if err := p.SendText(ctx, caption); err != nil {
				m.logger.Warn().Err(err).Str("provider", p.Name()).Msg("notification delivery failed")
			}
		}
	}
}

// =============================================================================
// TELEGRAM PROVIDER
// =============================================================================

// TelegramConfig holds Telegram bot configuration.
type TelegramConfig struct {
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
	Enabled  bool   `json:"enabled"`
}

// TelegramProvider sends messages through the Telegram bot API using HTML
// parse mode.
type TelegramProvider struct {
	botToken string
	chatID   string
	enabled  bool
	apiBase  string
	client   *http.Client
}

// NewTelegramProvider creates a Telegram provider. It is disabled when
// the token or chat ID is missing.
func NewTelegramProvider(cfg TelegramConfig) *TelegramProvider {
	return &TelegramProvider{
		botToken: cfg.BotToken,
		chatID:   cfg.ChatID,
		enabled:  cfg.Enabled && cfg.BotToken != "" && cfg.ChatID != "",
		apiBase:  "https://api.telegram.org",
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramProvider) Name() string { return "telegram" }

func (t *TelegramProvider) IsEnabled() bool { return t.enabled }

func (t *TelegramProvider) SendText(ctx context.Context, text string) error {
	payload := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "HTML",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}
	return nil
}

func (t *TelegramProvider) SendPhoto(ctx context.Context, caption, photoPath string) error {
	file, err := os.Open(photoPath)
	if err != nil {
		return fmt.Errorf("failed to open photo: %w", err)
	}
	defer file.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("chat_id", t.chatID); err != nil {
		return err
	}
	if err := writer.WriteField("caption", caption); err != nil {
		return err
	}
	if err := writer.WriteField("parse_mode", "HTML"); err != nil {
		return err
	}
	part, err := writer.CreateFormFile("photo", filepath.Base(photoPath))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, file); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendPhoto", t.apiBase, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send telegram photo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}
	return nil
}

// =============================================================================
// DISCORD PROVIDER
// =============================================================================

// DiscordConfig holds Discord webhook configuration.
type DiscordConfig struct {
	WebhookURL string `json:"webhook_url"`
	Enabled    bool   `json:"enabled"`
}

// DiscordProvider posts messages to a Discord webhook.
type DiscordProvider struct {
	webhookURL string
	enabled    bool
	client     *http.Client
}

// NewDiscordProvider creates a Discord provider.
func NewDiscordProvider(cfg DiscordConfig) *DiscordProvider {
	return &DiscordProvider{
		webhookURL: cfg.WebhookURL,
		enabled:    cfg.Enabled && cfg.WebhookURL != "",
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *DiscordProvider) Name() string { return "discord" }

func (d *DiscordProvider) IsEnabled() bool { return d.enabled }

func (d *DiscordProvider) SendText(ctx context.Context, text string) error {
	payload := map[string]interface{}{
		"content": text,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal discord payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send discord message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("discord API returned status %d", resp.StatusCode)
	}
	return nil
}

// SendPhoto is not supported over plain webhooks; the caption is sent as
// text instead.
func (d *DiscordProvider) SendPhoto(ctx context.Context, caption, photoPath string) error {
	return d.SendText(ctx, caption)
}
