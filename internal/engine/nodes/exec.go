package nodes

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rakunlabs/at-engine/internal/engine/model"
	"github.com/rakunlabs/at-engine/internal/engine/param"
	"github.com/rakunlabs/at-engine/internal/engine/registry"
)

// execNode runs a shell command in a sandboxed working directory,
// adapted from execNode (internal/service/workflow/nodes/exec.go):
// the sandboxing and exit-code handling are unchanged, the command
// itself comes from a typed "command" input instead of a Go-template
// string (template rendering already happened upstream, in this model,
// via the template node).
type execNode struct {
	sandboxRoot string
	timeout     time.Duration
}

const (
	defaultSandboxRoot = "/tmp/at-engine-sandbox"
	defaultExecTimeout = 60 * time.Second
	maxExecTimeout     = 600 * time.Second
)

func (n *execNode) Run(ctx context.Context, rc registry.Context) registry.Outcome {
	command, _ := asString(raw(rc.Inputs, "command"))
	if command == "" {
		return registry.Outcome{Err: fmt.Errorf("exec: 'command' is required")}
	}

	sandboxAbs, err := filepath.Abs(n.sandboxRoot)
	if err != nil {
		return registry.Outcome{Err: fmt.Errorf("exec: resolve sandbox root: %w", err)}
	}
	if err := os.MkdirAll(sandboxAbs, 0o755); err != nil {
		return registry.Outcome{Err: fmt.Errorf("exec: create sandbox dir: %w", err)}
	}

	workDir := sandboxAbs
	if dir, ok := asString(raw(rc.Inputs, "workingDir")); ok && dir != "" {
		workDir = filepath.Join(sandboxAbs, dir)
	}
	workDirAbs, err := filepath.Abs(workDir)
	if err != nil {
		return registry.Outcome{Err: fmt.Errorf("exec: resolve working dir: %w", err)}
	}
	if !isInsideSandbox(workDirAbs, sandboxAbs) {
		return registry.Outcome{Err: fmt.Errorf("exec: working directory %q escapes sandbox %q", workDirAbs, sandboxAbs)}
	}
	if err := os.MkdirAll(workDirAbs, 0o755); err != nil {
		return registry.Outcome{Err: fmt.Errorf("exec: create working dir: %w", err)}
	}

	execCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "/bin/sh", "-c", command)
	cmd.Dir = workDirAbs
	cmd.Env = []string{
		"HOME=" + sandboxAbs,
		"PATH=/usr/local/bin:/usr/bin:/bin:/usr/sbin:/sbin",
		"TMPDIR=" + sandboxAbs,
		"SANDBOX_ROOT=" + sandboxAbs,
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return registry.Outcome{Err: fmt.Errorf("exec: %w", runErr)}
		}
	}

	return registry.Outcome{Outputs: map[string]param.EngineValue{
		"stdout":   {Kind: model.TypeString, Raw: stdout.String()},
		"stderr":   {Kind: model.TypeString, Raw: stderr.String()},
		"exitCode": {Kind: model.TypeNumber, Raw: float64(exitCode)},
	}}
}

func isInsideSandbox(dir, sandbox string) bool {
	dir = filepath.Clean(dir)
	sandbox = filepath.Clean(sandbox)
	if dir == sandbox {
		return true
	}
	return strings.HasPrefix(dir, sandbox+string(filepath.Separator))
}

var execDescriptor = registry.Descriptor{
	ID:          "exec",
	Type:        "exec",
	Name:        "Exec",
	Description: "Runs a shell command in a sandboxed working directory.",
	Inputs: []model.InputParam{
		{Name: "command", Type: model.TypeString, Required: true},
		{Name: "workingDir", Type: model.TypeString, Required: false},
	},
	Outputs: []model.OutputParam{
		{Name: "stdout", Type: model.TypeString},
		{Name: "stderr", Type: model.TypeString},
		{Name: "exitCode", Type: model.TypeNumber},
	},
	ComputeCost: 3,
	Factory: func(node model.Node) (registry.Executable, error) {
		sandboxRoot, _ := node.Values["sandboxRoot"].(string)
		if sandboxRoot == "" {
			sandboxRoot = defaultSandboxRoot
		}
		timeout := defaultExecTimeout
		if t, ok := node.Values["timeout"].(float64); ok && t > 0 {
			timeout = time.Duration(t) * time.Second
			if timeout > maxExecTimeout {
				timeout = maxExecTimeout
			}
		}
		return &execNode{sandboxRoot: sandboxRoot, timeout: timeout}, nil
	},
}
