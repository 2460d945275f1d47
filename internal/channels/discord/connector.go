// Package discord implements the outbound Discord gateway.ChannelConnector,
// grounded on the teacher's internal/channels/discord adapter but scoped to
// send-only: no gateway websocket, no inbound event handlers.
package discord

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/haasonsaas/nexus/internal/channels"
	"github.com/haasonsaas/nexus/pkg/models"
)

// channelPrefix is the gateway.ChannelConnector routing prefix this
// connector answers for: "discord:<channel_id>".
const channelPrefix = "discord:"

// session is the subset of *discordgo.Session this connector calls,
// mirroring the teacher's discordSession interface so tests can supply a
// fake instead of a live bot token.
type session interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Connector is the outbound Discord gateway.ChannelConnector. Unlike the
// teacher's full Adapter it never opens the gateway websocket: sending is a
// plain REST call, so there is nothing to connect or reconnect.
type Connector struct {
	sess session
}

// New builds a Connector from a bot token ("Bot token" application
// credential, per discordgo.New's own convention).
func New(botToken string) (*Connector, error) {
	sess, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	return &Connector{sess: sess}, nil
}

// newWithSession is the test seam: inject a fake session instead of a real
// discordgo.Session.
func newWithSession(sess session) *Connector {
	return &Connector{sess: sess}
}

func (c *Connector) Name() string { return "discord" }

func (c *Connector) Matches(channel string) bool {
	return strings.HasPrefix(channel, channelPrefix)
}

func (c *Connector) Send(_ context.Context, channel, text string) error {
	channelID, err := channelID(channel)
	if err != nil {
		return err
	}
	_, err = c.sess.ChannelMessageSend(channelID, text)
	if err != nil {
		return classifySendErr(err)
	}
	return nil
}

// SendRich renders msg as a Discord embed, following the teacher's
// embed-when-title-or-fields-present branch in Adapter.Send.
func (c *Connector) SendRich(_ context.Context, channel string, msg models.RichMessage) error {
	channelID, err := channelID(channel)
	if err != nil {
		return err
	}
	embed := &discordgo.MessageEmbed{
		Title:       msg.Title,
		Description: msg.PlainText,
	}
	for k, v := range msg.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  k,
			Value: fmt.Sprintf("%v", v),
		})
	}
	_, err = c.sess.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{embed},
	})
	if err != nil {
		return classifySendErr(err)
	}
	return nil
}

func channelID(channel string) (string, error) {
	id := strings.TrimPrefix(channel, channelPrefix)
	if id == "" {
		return "", fmt.Errorf("discord: channel %q carries no channel id", channel)
	}
	return id, nil
}

// classifySendErr maps a raw discordgo send failure onto a channels.Error so
// ConnectorRegistry's retry wrapper can tell a transient failure (rate
// limited, connection reset) from one retrying won't fix (bad channel id,
// revoked token).
func classifySendErr(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return channels.ErrTimeout("discord send timed out", err)
	case containsAny(err, "429", "rate limit"):
		return channels.ErrRateLimit("discord rate limited", err)
	case containsAny(err, "401", "403", "unauthorized", "forbidden"):
		return channels.ErrAuthentication("discord authentication failed", err)
	default:
		return channels.ErrConnection("discord send failed", err)
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
