package plugins

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"github.com/swarmgraph/spider/internal/core"
	"github.com/swarmgraph/spider/internal/executor"
)

// shellAllowedCommands is the whitelist carried over unchanged from
// ShellPlugin in services/orchestrator/plugins.go, minus curl/wget/
// python which duplicate what http.fetch and the executor's own process
// model already cover.
var shellAllowedCommands = map[string]bool{
	"echo": true,
	"cat":  true,
	"grep": true,
	"awk":  true,
	"sed":  true,
	"jq":   true,
}

const shellTimeout = 10 * time.Second

func init() {
	executor.Register("shell.run", shellRun)
}

// shellRun executes a whitelisted command against literal arguments.
// Args: [0] command name, [1:] command arguments. Returns one output:
// the command's stdout; stderr is only reported in the error on failure.
func shellRun(ctx *core.TaskContext, args [][]byte) ([][]byte, error) {
	if len(args) == 0 {
		return nil, core.NewTaskExecutionErr(core.TaskArgumentInvalid, "shell.run requires a command argument")
	}
	command := string(args[0])
	if !shellAllowedCommands[command] {
		return nil, core.NewTaskExecutionErr(core.TaskArgumentInvalid, "command not allowed: %s", command)
	}
	cmdArgs := make([]string, 0, len(args)-1)
	for _, a := range args[1:] {
		cmdArgs = append(cmdArgs, string(a))
	}

	execCtx, cancel := context.WithTimeout(context.Background(), shellTimeout)
	defer cancel()
	cmd := exec.CommandContext(execCtx, command, cmdArgs...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, core.NewTaskExecutionErr(core.TaskFailed, "command %s failed: %v: %s", command, err, stderr.String())
	}
	return [][]byte{stdout.Bytes()}, nil
}
