package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"octopus-controlplane/pkg/api"
)

// Outcome is what a plugin run produced, ready to be reported.
type Outcome struct {
	Status string
	Result json.RawMessage
}

type Runner interface {
	Run(ctx context.Context, path string, task api.AssignedTask) Outcome
}

// invocation is written to the plugin's stdin.
type invocation struct {
	TaskID string          `json:"task_id"`
	Action string          `json:"action"`
	Args   json.RawMessage `json:"args"`
	Kwargs json.RawMessage `json:"kwargs"`
}

// ExecRunner runs a plugin as a child process: the action is its only
// argument, the invocation arrives as JSON on stdin and stdout is the result.
type ExecRunner struct {
	Timeout time.Duration
}

func (r ExecRunner) Run(ctx context.Context, path string, task api.AssignedTask) Outcome {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	input, err := json.Marshal(invocation{
		TaskID: task.ID,
		Action: task.Action,
		Args:   orEmpty(task.Args, "[]"),
		Kwargs: orEmpty(task.Kwargs, "{}"),
	})
	if err != nil {
		return failure(fmt.Sprintf("encode invocation: %v", err))
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, task.Action)
	cmd.Stdin = bytes.NewReader(input)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	err = cmd.Run()
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return failure(fmt.Sprintf("plugin timed out after %s", r.Timeout))
	case err != nil:
		msg := bytes.TrimSpace(stderr.Bytes())
		if len(msg) == 0 {
			msg = bytes.TrimSpace(stdout.Bytes())
		}
		return failure(fmt.Sprintf("%v: %s", err, msg))
	}

	return Outcome{Status: "completed", Result: output(stdout.Bytes())}
}

func orEmpty(raw json.RawMessage, empty string) json.RawMessage {
	if len(bytes.TrimSpace(raw)) == 0 {
		return json.RawMessage(empty)
	}
	return raw
}

// output keeps JSON stdout as is and wraps anything else as a JSON string.
func output(b []byte) json.RawMessage {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && json.Valid(b) {
		return json.RawMessage(b)
	}
	quoted, _ := json.Marshal(string(b))
	return quoted
}

func failure(msg string) Outcome {
	quoted, _ := json.Marshal(msg)
	return Outcome{Status: "failed", Result: quoted}
}
