// Package telegram implements the outbound Telegram gateway.ChannelConnector,
// grounded on the teacher's internal/channels/telegram adapter but scoped
// to send-only: no long-polling/webhook update loop.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"

	"github.com/haasonsaas/nexus/internal/channels"
	"github.com/haasonsaas/nexus/pkg/models"
)

// channelPrefix is the gateway.ChannelConnector routing prefix this
// connector answers for: "telegram:<chat_id>".
const channelPrefix = "telegram:"

// sender is the subset of BotClient (the teacher's mockable wrapper around
// *bot.Bot) this connector calls.
type sender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*botMessage, error)
}

// botMessage stands in for *telegrammodels.Message: the connector never
// reads a sent message's fields, so it only needs something to return.
type botMessage struct{}

// realSender adapts a *bot.Bot to sender, discarding the library's own
// *models.Message return value.
type realSender struct{ b *bot.Bot }

func (r *realSender) SendMessage(ctx context.Context, params *bot.SendMessageParams) (*botMessage, error) {
	_, err := r.b.SendMessage(ctx, params)
	return &botMessage{}, err
}

// Connector is the outbound Telegram gateway.ChannelConnector.
type Connector struct {
	send sender
}

// New builds a Connector from a bot token, per bot.New's own convention.
func New(token string) (*Connector, error) {
	b, err := bot.New(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Connector{send: &realSender{b: b}}, nil
}

// newWithSender is the test seam: inject a fake sender instead of a real bot.
func newWithSender(send sender) *Connector {
	return &Connector{send: send}
}

func (c *Connector) Name() string { return "telegram" }

func (c *Connector) Matches(channel string) bool {
	return strings.HasPrefix(channel, channelPrefix)
}

func (c *Connector) Send(ctx context.Context, channel, text string) error {
	chatID, err := chatID(channel)
	if err != nil {
		return err
	}
	_, err = c.send.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text})
	if err != nil {
		return classifySendErr(err)
	}
	return nil
}

// SendRich renders msg as a title line followed by the plain text body;
// Telegram has no first-class rich-card concept like Discord embeds or
// Slack blocks, so this mirrors the teacher's own fallback-to-text
// behavior when no richer metadata is present.
func (c *Connector) SendRich(ctx context.Context, channel string, msg models.RichMessage) error {
	chatID, err := chatID(channel)
	if err != nil {
		return err
	}
	text := msg.PlainText
	if msg.Title != "" {
		text = msg.Title + "\n" + text
	}
	_, err = c.send.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text})
	if err != nil {
		return classifySendErr(err)
	}
	return nil
}

func chatID(channel string) (int64, error) {
	raw := strings.TrimPrefix(channel, channelPrefix)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram: channel %q carries no numeric chat id: %w", channel, err)
	}
	return id, nil
}

// classifySendErr maps a raw Telegram Bot API failure onto a channels.Error
// so ConnectorRegistry's retry wrapper can tell a transient failure (rate
// limited, connection reset) from one retrying won't fix (chat not found,
// revoked token).
func classifySendErr(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return channels.ErrTimeout("telegram send timed out", err)
	case containsAny(err, "429", "too many requests"):
		return channels.ErrRateLimit("telegram rate limited", err)
	case containsAny(err, "401", "403", "unauthorized"):
		return channels.ErrAuthentication("telegram authentication failed", err)
	case containsAny(err, "bot was blocked", "chat not found"):
		return channels.ErrNotFound("telegram chat unavailable", err)
	default:
		return channels.ErrConnection("telegram send failed", err)
	}
}

func containsAny(err error, substrs ...string) bool {
	msg := strings.ToLower(err.Error())
	for _, s := range substrs {
		if strings.Contains(msg, strings.ToLower(s)) {
			return true
		}
	}
	return false
}
