package slashcmd

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry is a thread-safe name -> (Command, Handler) table, per spec
// §4.8's "Thread-safe map name -> (Command, Handler)".
type Registry struct {
	mu       sync.RWMutex
	commands map[string]Command
	handlers map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		commands: map[string]Command{},
		handlers: map[string]Handler{},
	}
}

// Register adds cmd and its handler, replacing any existing entry with
// the same name.
func (r *Registry) Register(cmd Command, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[cmd.Name] = cmd
	r.handlers[cmd.Name] = handler
}

// List returns every registered command, sorted by name.
func (r *Registry) List() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Command, 0, len(r.commands))
	for _, c := range r.commands {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Dispatch parses raw user input and runs the matching handler, per spec
// §4.8 dispatch steps 1-3:
//  1. trim leading '/'; first whitespace token is the command name.
//  2. look up; reject if the channel allowlist excludes cctx.Channel.
//  3. invoke.
func (r *Registry) Dispatch(ctx context.Context, channel, raw string, cctx Context) (Response, error) {
	trimmed := strings.TrimSpace(raw)
	withoutSlash := strings.TrimPrefix(trimmed, "/")
	name, rest, _ := strings.Cut(withoutSlash, " ")
	if name == "" {
		return Response{}, fmt.Errorf("%w: %q", ErrUnknownCommand, "")
	}
	rest = strings.TrimSpace(rest)

	r.mu.RLock()
	cmd, ok := r.commands[name]
	handler := r.handlers[name]
	r.mu.RUnlock()
	if !ok {
		return Response{}, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
	if !cmd.allows(channel) {
		return Response{}, fmt.Errorf("%w: /%s on %q", ErrNotAvailable, name, channel)
	}

	args := Args{Raw: rest}
	if rest != "" {
		args.Tokens = strings.Fields(rest)
	}
	return handler(ctx, cctx, args)
}
