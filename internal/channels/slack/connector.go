// Package slack implements the outbound Slack gateway.ChannelConnector,
// grounded on the teacher's internal/channels/slack adapter but scoped to
// send-only: no Socket Mode connection, no inbound event handling.
package slack

import (
	"context"
	"errors"
	"fmt"
	"strings"

	goslack "github.com/slack-go/slack"

	"github.com/haasonsaas/nexus/internal/channels"
	"github.com/haasonsaas/nexus/pkg/models"
)

// channelPrefix is the gateway.ChannelConnector routing prefix this
// connector answers for: "slack:<channel_id>".
const channelPrefix = "slack:"

// poster is the subset of the teacher's SlackAPIClient this connector
// calls, letting tests inject a fake instead of a live bot token.
type poster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...goslack.MsgOption) (string, string, error)
}

// Connector is the outbound Slack gateway.ChannelConnector.
type Connector struct {
	client poster
}

// New builds a Connector from a bot token (xoxb-...), per slack.New's own
// convention. Socket Mode's app-level token is deliberately not accepted
// here: this connector never opens a Socket Mode connection.
func New(botToken string) *Connector {
	return &Connector{client: goslack.New(botToken)}
}

// newWithClient is the test seam: inject a fake poster instead of a real
// *slack.Client.
func newWithClient(client poster) *Connector {
	return &Connector{client: client}
}

func (c *Connector) Name() string { return "slack" }

func (c *Connector) Matches(channel string) bool {
	return strings.HasPrefix(channel, channelPrefix)
}

func (c *Connector) Send(ctx context.Context, channel, text string) error {
	channelID, err := channelID(channel)
	if err != nil {
		return err
	}
	if _, _, err := c.client.PostMessageContext(ctx, channelID, goslack.MsgOptionText(text, false)); err != nil {
		return classifySendErr(err)
	}
	return nil
}

// SendRich renders msg as a Block Kit section block, following the
// teacher's buildBlockKitMessage pattern.
func (c *Connector) SendRich(ctx context.Context, channel string, msg models.RichMessage) error {
	channelID, err := channelID(channel)
	if err != nil {
		return err
	}
	var blocks []goslack.Block
	if msg.Title != "" {
		blocks = append(blocks, goslack.NewHeaderBlock(goslack.NewTextBlockObject("plain_text", msg.Title, false, false)))
	}
	if msg.PlainText != "" {
		blocks = append(blocks, goslack.NewSectionBlock(goslack.NewTextBlockObject("mrkdwn", msg.PlainText, false, false), nil, nil))
	}
	for k, v := range msg.Fields {
		text := fmt.Sprintf("*%s*: %v", k, v)
		blocks = append(blocks, goslack.NewContextBlock("", goslack.NewTextBlockObject("mrkdwn", text, false, false)))
	}
	if len(blocks) == 0 {
		return c.Send(ctx, channel, msg.PlainText)
	}
	if _, _, err := c.client.PostMessageContext(ctx, channelID, goslack.MsgOptionBlocks(blocks...)); err != nil {
		return classifySendErr(err)
	}
	return nil
}

func channelID(channel string) (string, error) {
	id := strings.TrimPrefix(channel, channelPrefix)
	if id == "" {
		return "", fmt.Errorf("slack: channel %q carries no channel id", channel)
	}
	return id, nil
}

// classifySendErr maps a raw Slack API failure onto a channels.Error so
// ConnectorRegistry's retry wrapper can tell a transient failure (rate
// limited, connection reset) from one retrying won't fix (bad channel,
// revoked token).
func classifySendErr(err error) error {
	var rlErr *goslack.RateLimitedError
	switch {
	case errors.As(err, &rlErr):
		return channels.ErrRateLimit("slack rate limited", err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return channels.ErrTimeout("slack send timed out", err)
	case containsAny(err, "invalid_auth", "not_authed", "account_inactive", "token_revoked"):
		return channels.ErrAuthentication("slack authentication failed", err)
	default:
		return channels.ErrConnection("slack send failed", err)
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
