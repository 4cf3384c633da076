// CLAUDE:SUMMARY Engine-under-test provider: runs the engine binary from an argv template and publishes its PPM atomically.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Placeholders substituted in engine argv templates.
const (
	PlaceholderHTML   = "{html}"
	PlaceholderWidth  = "{width}"
	PlaceholderHeight = "{height}"
	PlaceholderOutput = "{output}"
	PlaceholderOracle = "{oracle}"
	PlaceholderBudget = "{budget_ms}"
)

// MaxStderr bounds how much of the engine's stderr is kept in an error.
const MaxStderr = 200

// DefaultEngineArgs is the argv tail of the engine's capture mode.
var DefaultEngineArgs = []string{
	"--html-file", PlaceholderHTML,
	"--width", PlaceholderWidth,
	"--height", PlaceholderHeight,
	"--dump-frame", PlaceholderOutput,
}

// DefaultOracleArgs are appended when a request asks for an oracle dump.
var DefaultOracleArgs = []string{"--dump-layout", PlaceholderOracle}

// Engine runs an external engine binary per capture.
type Engine struct {
	argv       []string
	oracleArgv []string
	env        []string
	logger     *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithOracleArgs sets the arguments appended when Request.OraclePath is set.
// Nil disables oracle dumps.
func WithOracleArgs(args []string) EngineOption {
	return func(e *Engine) { e.oracleArgv = args }
}

// WithEnv appends environment variables to the engine process.
func WithEnv(env ...string) EngineOption {
	return func(e *Engine) { e.env = append(e.env, env...) }
}

// WithEngineLogger sets the logger.
func WithEngineLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// NewEngine builds an Engine from an argv template. argv[0] is the binary;
// the template must reference {output}.
func NewEngine(argv []string, opts ...EngineOption) (*Engine, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, fmt.Errorf("capture: engine command is empty")
	}
	if !referencesOutput(argv) {
		return nil, fmt.Errorf("capture: engine command must contain %s", PlaceholderOutput)
	}
	e := &Engine{
		argv:       argv,
		oracleArgv: DefaultOracleArgs,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Capture runs the engine. The engine writes to a partial path which is
// renamed onto req.OutputPath only when the process exits cleanly.
func (e *Engine) Capture(ctx context.Context, req Request) error {
	if req.Budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Budget)
		defer cancel()
	}

	partial := partialPath(req.OutputPath)
	os.Remove(partial)
	args := e.expand(req, partial)

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Env = append(os.Environ(), e.env...)
	cmd.WaitDelay = time.Second
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	if err != nil {
		os.Remove(partial)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("capture: engine %s: %w", req.CaseID, ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("capture: engine %s: exit %d: %s",
				req.CaseID, exitErr.ExitCode(), truncate(stderr.String(), MaxStderr))
		}
		return fmt.Errorf("capture: engine %s: %w", req.CaseID, err)
	}

	if _, err := os.Stat(partial); err != nil {
		return fmt.Errorf("%w: engine exited 0 for %s", ErrNoOutput, req.CaseID)
	}
	if err := publish(req.OutputPath); err != nil {
		return err
	}
	e.logger.Debug("capture: engine done", "case", req.CaseID, "duration", time.Since(start))
	return nil
}

func (e *Engine) expand(req Request, output string) []string {
	r := strings.NewReplacer(
		PlaceholderHTML, req.HTMLPath,
		PlaceholderWidth, strconv.Itoa(req.Width),
		PlaceholderHeight, strconv.Itoa(req.Height),
		PlaceholderOutput, output,
		PlaceholderOracle, req.OraclePath,
		PlaceholderBudget, strconv.FormatInt(req.Budget.Milliseconds(), 10),
	)
	out := make([]string, 0, len(e.argv)+len(e.oracleArgv))
	for _, a := range e.argv {
		out = append(out, r.Replace(a))
	}
	if req.OraclePath != "" {
		for _, a := range e.oracleArgv {
			out = append(out, r.Replace(a))
		}
	}
	return out
}

func referencesOutput(argv []string) bool {
	for _, a := range argv {
		if strings.Contains(a, PlaceholderOutput) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}
