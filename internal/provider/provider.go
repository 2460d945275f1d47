// Package provider defines the contract the turn engine consumes to drive
// a conversation turn against an LLM. Concrete HTTP clients are an external
// collaborator — this package only describes the shape of the call and its
// response.
package provider

import (
	"context"

	"github.com/haasonsaas/nexus/pkg/models"
)

// ResponseKind discriminates a ProviderResponse's payload.
type ResponseKind int

const (
	KindFinal ResponseKind = iota
	KindFunctionCall
	KindMultiFunctionCall
)

// Call is one (id, name, arguments) tuple, shared by FunctionCall and
// MultiFunctionCall responses.
type Call struct {
	ID        string
	Name      string
	Arguments string
}

// Response is the tagged union the provider manager returns for a turn
// step: exactly one of Final(Text), FunctionCall(Calls[0]), or
// MultiFunctionCall(Calls).
type Response struct {
	Kind  ResponseKind
	Text  string
	Calls []Call
}

// Final builds a Final(text) response.
func Final(text string) Response {
	return Response{Kind: KindFinal, Text: text}
}

// FunctionCall builds a single-call response.
func FunctionCall(call Call) Response {
	return Response{Kind: KindFunctionCall, Calls: []Call{call}}
}

// MultiFunctionCall builds a parallel-call response.
func MultiFunctionCall(calls []Call) Response {
	return Response{Kind: KindMultiFunctionCall, Calls: calls}
}

// IsFunctionCall reports whether the response carries at least one tool
// call, of either flavour.
func (r Response) IsFunctionCall() bool {
	return r.Kind == KindFunctionCall || r.Kind == KindMultiFunctionCall
}

// Manager is the provider contract the turn engine calls against. Retry
// and multi-provider fallback are the manager's concern, not the turn
// engine's — the turn engine sees one call, one response.
type Manager interface {
	// SendChatWithFunctions sends messages and the current function
	// definitions and returns the model's response along with token
	// usage, when the provider reports it.
	SendChatWithFunctions(ctx context.Context, messages []models.ChatMessage, functionDefs []models.FunctionDef) (Response, *models.TokenUsage, error)

	// SupportsFunctions reports whether this provider honours
	// functionDefs at all; the turn engine's enforcement retry only
	// fires when this is true.
	SupportsFunctions() bool
}
