package main

import (
	"context"
	"fmt"

	"github.com/haasonsaas/nexus/internal/provider"
	"github.com/haasonsaas/nexus/pkg/models"
)

// unconfiguredProvider is the placeholder provider.Manager wired when no
// concrete LLM client is plugged in. Nothing in this daemon speaks to an
// LLM backend over the wire by itself; a real deployment replaces this
// with a provider.Manager of its own at the same seam runServe uses to
// build each agent's turn.Engine.
type unconfiguredProvider struct{}

func (unconfiguredProvider) SendChatWithFunctions(ctx context.Context, messages []models.ChatMessage, functionDefs []models.FunctionDef) (provider.Response, *models.TokenUsage, error) {
	return provider.Response{}, nil, fmt.Errorf("no LLM provider configured: plug in a provider.Manager implementation")
}

func (unconfiguredProvider) SupportsFunctions() bool { return false }
