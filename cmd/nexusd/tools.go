package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/haasonsaas/nexus/internal/config"
	"github.com/haasonsaas/nexus/internal/toolregistry"
	exectools "github.com/haasonsaas/nexus/internal/tools/exec"
	"github.com/haasonsaas/nexus/internal/tools/files"
	"github.com/haasonsaas/nexus/pkg/models"
)

// builtinTool is the common shape every internal/tools implementation
// exposes; registerTool adapts it to toolregistry.Handler.
type builtinTool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Execute(ctx context.Context, params json.RawMessage) (*toolregistry.Result, error)
}

func registerTool(reg *toolregistry.Registry, t builtinTool) {
	reg.Register(models.ToolMeta{
		Name:        t.Name(),
		Description: t.Description(),
		ArgsSchema:  t.Schema(),
	}, func(ctx context.Context, _ string, args json.RawMessage) (*toolregistry.Result, error) {
		return t.Execute(ctx, args)
	})
}

// registerBuiltinTools wires the file and exec tools scoped to one agent's
// sandboxed workspace directory: read, write, edit, apply_patch, exec, and
// process.
func registerBuiltinTools(reg *toolregistry.Registry, workspace string, tools config.ToolsConfig) {
	fileCfg := files.Config{
		Workspace:    workspace,
		MaxReadBytes: tools.MaxOutputBytes,
	}
	registerTool(reg, files.NewReadTool(fileCfg))
	registerTool(reg, files.NewWriteTool(fileCfg))
	registerTool(reg, files.NewEditTool(fileCfg))
	registerTool(reg, files.NewApplyPatchTool(fileCfg))

	execManager := exectools.NewManagerWithLimits(
		workspace,
		tools.MaxOutputBytes,
		time.Duration(tools.ForegroundTimeoutSecs)*time.Second,
		time.Duration(tools.BackgroundTimeoutSecs)*time.Second,
	)
	registerTool(reg, exectools.NewExecTool("exec", execManager))
	registerTool(reg, exectools.NewProcessTool(execManager))
}
