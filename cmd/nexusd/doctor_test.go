package main

import (
	"strings"
	"testing"
)

func TestDoctorCmd_ReportsConfigFailure(t *testing.T) {
	cmd := buildDoctorCmd()
	out := &strings.Builder{}
	cmd.SetOut(out)
	cmd.SetArgs([]string{"--config", "/nonexistent/nexusd.yaml"})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected doctor to fail for a missing config file")
	}
	if !strings.Contains(out.String(), "config: FAIL") {
		t.Errorf("expected config FAIL line, got %q", out.String())
	}
}

func TestDoctorCmd_ReportsHealthyConfig(t *testing.T) {
	path := writeTestConfig(t, "agents:\n  - id: main\n")
	cmd := buildDoctorCmd()
	out := &strings.Builder{}
	cmd.SetOut(out)
	cmd.SetArgs([]string{"--config", path})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute doctor: %v", err)
	}
	for _, want := range []string{"config: OK", "provider: no LLM provider.Manager", "channels: no outbound connector configured"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("expected output to contain %q, got %q", want, out.String())
		}
	}
}

func TestAuditPort_ReportsAvailablePort(t *testing.T) {
	out := &strings.Builder{}
	auditPort(out, "test", "127.0.0.1", 0)
	if !strings.Contains(out.String(), "available") {
		t.Errorf("expected ephemeral port 0 to report available, got %q", out.String())
	}
}
