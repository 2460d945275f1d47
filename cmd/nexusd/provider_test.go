package main

import (
	"context"
	"testing"
)

func TestUnconfiguredProvider_SendChatWithFunctionsErrors(t *testing.T) {
	p := unconfiguredProvider{}
	_, usage, err := p.SendChatWithFunctions(context.Background(), nil, nil)
	if err == nil {
		t.Fatal("expected an error from an unconfigured provider")
	}
	if usage != nil {
		t.Errorf("expected nil usage, got %+v", usage)
	}
}

func TestUnconfiguredProvider_SupportsFunctionsIsFalse(t *testing.T) {
	if (unconfiguredProvider{}).SupportsFunctions() {
		t.Error("expected unconfigured provider to report no function support")
	}
}
