package connector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/pitabwire/switchboard/model"
)

const (
	defaultVersionFlag = "--version"
	// processWaitDelay bounds how long output pipes are drained after the
	// process is killed.
	processWaitDelay = 2 * time.Second
)

// cliStrategy runs commands through the platform shell.
type cliStrategy struct{}

func (s *cliStrategy) execute(ctx context.Context, conn model.Connector, cfg *model.CLIConfig, c call) model.Response {
	line := composeCommand(cfg, c.action, c.params)
	if line == "" {
		return model.Fail(model.ErrBadRequest, fmt.Sprintf("connector %s: nothing to run", conn.ID))
	}

	name, args := shellCommand(line)
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = c.ictx.WorkspaceRoot
	cmd.WaitDelay = processWaitDelay
	if len(cfg.Env) > 0 {
		cmd.Env = os.Environ()
		for _, k := range sortedKeys(cfg.Env) {
			cmd.Env = append(cmd.Env, k+"="+cfg.Env[k])
		}
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	exitCode := 0
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	} else if err != nil {
		exitCode = -1
	}
	data := map[string]any{
		"stdout":   stdout.String(),
		"stderr":   stderr.String(),
		"exitCode": exitCode,
		"command":  line,
	}

	if err == nil {
		return model.OK(data)
	}
	if resp, done := contextFailure(ctx, "command "+conn.ID); done {
		resp.Data = data
		return resp
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return model.FailWithData(model.ErrDispatchFailure, fmt.Sprintf("command exited with code %d", exitCode), data)
	}
	return model.FailWithData(model.ErrDispatchFailure, err.Error(), data)
}

// composeCommand builds the command line: the base command, then for "run"
// the args, for "version" the version flag, and for any other action the
// action itself followed by the args.
func composeCommand(cfg *model.CLIConfig, action string, params map[string]any) string {
	parts := []string{cfg.Command}
	args := commandArgs(params)

	switch action {
	case "run", "":
		parts = append(parts, args)
	case "version":
		flag := cfg.VersionFlag
		if flag == "" {
			flag = defaultVersionFlag
		}
		parts = append(parts, flag)
	default:
		parts = append(parts, action, args)
	}

	var nonEmpty []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, " ")
}

// commandArgs renders params.args. A string is used verbatim; a list is
// quoted item by item.
func commandArgs(params map[string]any) string {
	switch a := params["args"].(type) {
	case nil:
		return ""
	case string:
		return a
	case []string:
		return quoteAll(a)
	case []any:
		items := make([]string, 0, len(a))
		for _, v := range a {
			items = append(items, fmt.Sprint(v))
		}
		return quoteAll(items)
	default:
		return fmt.Sprint(a)
	}
}

func quoteAll(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = shellQuote(s)
	}
	return strings.Join(quoted, " ")
}

// shellQuote single-quotes s unless it is made only of safe characters.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' ||
			strings.ContainsRune("-_./=:,@%+", r)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func shellCommand(line string) (string, []string) {
	if runtime.GOOS == "windows" {
		return "cmd", []string{"/C", line}
	}
	return "/bin/sh", []string{"-c", line}
}
