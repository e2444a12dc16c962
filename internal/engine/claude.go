package engine

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// CLIConfig configures the Claude Code CLI engine.
type CLIConfig struct {
	Binary   string   // defaults to "claude"
	WorkDir  string   // default working directory for sessions
	ExtraEnv []string // appended to the process environment
	// PermissionMode is passed as --permission-mode when set.
	PermissionMode string
}

// CLI drives the Claude Code CLI in print mode with stream-json output.
// Each turn is one process; session continuity comes from --resume.
type CLI struct {
	cfg CLIConfig
}

// NewCLI returns a CLI engine.
func NewCLI(cfg CLIConfig) *CLI {
	if cfg.Binary == "" {
		cfg.Binary = "claude"
	}
	return &CLI{cfg: cfg}
}

// Start begins a new session.
func (c *CLI) Start(ctx context.Context, req Request) (*Stream, error) {
	return c.run(ctx, "", req)
}

// Resume continues sessionID with a new turn.
func (c *CLI) Resume(ctx context.Context, sessionID string, req Request) (*Stream, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("engine: resume requires a session id")
	}
	return c.run(ctx, sessionID, req)
}

// Args returns the CLI arguments for a turn. Exposed for diagnostics.
func (c *CLI) Args(sessionID string, req Request) []string {
	args := []string{
		"--print",
		"--output-format", "stream-json",
		"--verbose",
	}
	if sessionID != "" {
		args = append(args, "--resume", sessionID)
		if req.Fork {
			args = append(args, "--fork-session")
		}
	}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	if req.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(req.MaxTurns))
	}
	if req.MaxBudgetUSD > 0 {
		args = append(args, "--max-budget-usd", strconv.FormatFloat(req.MaxBudgetUSD, 'f', -1, 64))
	}
	if len(req.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(req.AllowedTools, ","))
	}
	if c.cfg.PermissionMode != "" {
		args = append(args, "--permission-mode", c.cfg.PermissionMode)
	}
	if req.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", req.SystemPrompt)
	}
	// Prompt as the positional argument, after a separator so a prompt that
	// starts with "-" is not read as a flag.
	return append(args, "--", req.Prompt)
}

func (c *CLI) run(ctx context.Context, sessionID string, req Request) (*Stream, error) {
	cmd := exec.CommandContext(ctx, c.cfg.Binary, c.Args(sessionID, req)...)
	cmd.Dir = req.WorkDir
	if cmd.Dir == "" {
		cmd.Dir = c.cfg.WorkDir
	}
	cmd.Env = append(os.Environ(), c.cfg.ExtraEnv...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", c.cfg.Binary, err)
	}

	stream := NewStream(16)
	go func() {
		parseErr := parseOutput(ctx, stdout, stream)
		waitErr := cmd.Wait()
		switch {
		case parseErr != nil:
			stream.Close(fmt.Errorf("reading engine output: %w", parseErr))
		case waitErr != nil && !hasResult(stream):
			stream.Close(fmt.Errorf("engine exited: %w: %s", waitErr, tail(stderr.String(), 500)))
		default:
			if waitErr != nil {
				slog.Debug("engine: non-zero exit after result", "error", waitErr)
			}
			stream.Close(nil)
		}
	}()
	return stream, nil
}

func hasResult(s *Stream) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result != nil
}

// parseOutput reads stream-json lines and emits events until EOF.
func parseOutput(ctx context.Context, r io.Reader, stream *Stream) error {
	scanner := bufio.NewScanner(r)
	// Tool results can carry whole files on one line.
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		events, err := ParseLine(line)
		if err != nil {
			slog.Debug("engine: skipping malformed output line", "error", err)
			continue
		}
		// Once ctx ends Emit drops events; the process is killed by
		// CommandContext and the scanner reaches EOF.
		for _, ev := range events {
			stream.Emit(ctx, ev)
		}
	}
	return scanner.Err()
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
