// Package slashcmd is a channel-agnostic slash command registry and
// dispatcher, per spec §4.8. Commands are intercepted before a message
// ever reaches the bus.
package slashcmd

import (
	"context"
	"errors"
)

// ErrUnknownCommand is returned (wrapped with the attempted name) when
// dispatch finds no matching command.
var ErrUnknownCommand = errors.New("unknown command")

// ErrNotAvailable is returned (wrapped with command + channel) when a
// command's channel allowlist excludes the calling channel.
var ErrNotAvailable = errors.New("command not available on this channel")

// Command describes one registered slash command.
type Command struct {
	Name        string
	Description string
	Usage       string
	// Channels this command is available on. Empty, or containing "*",
	// means every channel.
	Channels []string
}

func (c Command) allows(channel string) bool {
	if len(c.Channels) == 0 {
		return true
	}
	for _, ch := range c.Channels {
		if ch == "*" || ch == channel {
			return true
		}
	}
	return false
}

// Args is the parsed remainder of a command invocation.
type Args struct {
	Raw    string   // trimmed text after the command name
	Tokens []string // whitespace-split Raw
}

// First returns the first token, or "" if Args is empty.
func (a Args) First() string {
	if len(a.Tokens) == 0 {
		return ""
	}
	return a.Tokens[0]
}

// At returns the token at i, or "" if out of range.
func (a Args) At(i int) string {
	if i < 0 || i >= len(a.Tokens) {
		return ""
	}
	return a.Tokens[i]
}

// Rest joins tokens[i:] with a single space, or "" if none remain.
func (a Args) Rest(i int) string {
	if i >= len(a.Tokens) {
		return ""
	}
	out := a.Tokens[i]
	for _, t := range a.Tokens[i+1:] {
		out += " " + t
	}
	return out
}

// Context carries everything a handler needs to act on behalf of one
// agent invocation, mirroring spec §4.8's dispatch context.
type Context struct {
	AgentID    string
	AgentRoot  string // <home>/agents/<id>
	Workspace  string // AgentRoot/workspace
	Channel    string
	ConfigPath string
	Home       string // pinchy_home equivalent: the daemon's home dir
}

// Response is a handler's successful result.
type Response struct {
	Text string
}

// Handler executes one command invocation.
type Handler func(ctx context.Context, cctx Context, args Args) (Response, error)
