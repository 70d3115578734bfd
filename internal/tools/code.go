package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/rendis/flowrun/pkg/schema"
)

const (
	defaultCodeTimeout   = 30 * time.Second
	defaultMaxOutputSize = 10 * 1024 * 1024 // 10MB
)

// defaultInterpreters maps a language to the argv prefix that runs an inline
// program. The program text is appended as the last argument.
var defaultInterpreters = map[string][]string{
	"bash":   {"bash", "-c"},
	"sh":     {"/bin/sh", "-c"},
	"python": {"python3", "-c"},
	"node":   {"node", "-e"},
}

// CodeConfig configures the execute_code tool.
type CodeConfig struct {
	// Interpreters overrides or extends the language → argv prefix table.
	Interpreters   map[string][]string
	DefaultTimeout time.Duration
	MaxOutputSize  int64
	// WorkDir is the parent for per-invocation scratch directories.
	// Empty uses os.TempDir().
	WorkDir string
	// InheritEnv passes the host environment to the subprocess. When false
	// only PATH is inherited.
	InheritEnv bool
}

// CodeExecutionHandlers returns the code_execution category tools.
func CodeExecutionHandlers(cfg CodeConfig) []Handler {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultCodeTimeout
	}
	if cfg.MaxOutputSize <= 0 {
		cfg.MaxOutputSize = defaultMaxOutputSize
	}
	interp := make(map[string][]string, len(defaultInterpreters)+len(cfg.Interpreters))
	for k, v := range defaultInterpreters {
		interp[k] = v
	}
	for k, v := range cfg.Interpreters {
		interp[k] = v
	}
	cfg.Interpreters = interp
	return []Handler{&executeCode{cfg: cfg}}
}

type executeCode struct{ cfg CodeConfig }

func (*executeCode) Category() Category { return CategoryCodeExecution }
func (*executeCode) Name() string       { return "execute_code" }
func (a *executeCode) Description() string {
	langs := make([]string, 0, len(a.cfg.Interpreters))
	for k := range a.cfg.Interpreters {
		langs = append(langs, k)
	}
	sort.Strings(langs)
	return "Run an inline program in a scratch directory (" + strings.Join(langs, ", ") + "); non-zero exit is reported, not raised"
}

func (a *executeCode) Invoke(ctx context.Context, input any) (map[string]any, error) {
	params, err := paramsOf("execute_code", input)
	if err != nil {
		return nil, err
	}
	code, err := requireString("execute_code", params, "code")
	if err != nil {
		return nil, err
	}
	lang := stringParam(params, "language", "sh")
	argv, ok := a.cfg.Interpreters[lang]
	if !ok || len(argv) == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "execute_code: unsupported language %q", lang).
			WithDetails(map[string]any{"language": lang})
	}

	timeout := a.cfg.DefaultTimeout
	if ms := intParam(params, "timeout_ms", 0); ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	scratch, err := os.MkdirTemp(a.cfg.WorkDir, "flowrun-code-*")
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeToolExecution, "execute_code: scratch dir: %v", err).WithCause(err)
	}
	defer os.RemoveAll(scratch)

	args := append(append([]string{}, argv[1:]...), code)
	args = append(args, stringSliceParam(params, "args")...)
	cmd := exec.CommandContext(execCtx, argv[0], args...)
	cmd.Dir = scratch
	cmd.Env = a.environ(scratch, stringMapParam(params, "env"))
	cmd.WaitDelay = time.Second
	if stdin := stringParam(params, "stdin", ""); stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdoutBuf, limit: a.cfg.MaxOutputSize}
	cmd.Stderr = &limitedWriter{w: &stderrBuf, limit: a.cfg.MaxOutputSize}

	start := time.Now()
	runErr := cmd.Run()
	durationMs := time.Since(start).Milliseconds()

	exitCode := 0
	killed := false
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			// Interpreter missing, permission denied, ...
			return nil, schema.NewErrorf(schema.ErrCodeToolExecution, "execute_code: %v", runErr).WithCause(runErr)
		}
		exitCode = exitErr.ExitCode()
		if execCtx.Err() != nil {
			killed = true
		}
	}

	stdoutStr := stdoutBuf.String()
	var parsedStdout any = stdoutStr
	if stdoutBuf.Len() > 0 && json.Valid(stdoutBuf.Bytes()) {
		var parsed any
		if err := json.Unmarshal(stdoutBuf.Bytes(), &parsed); err == nil {
			parsedStdout = parsed
		}
	}

	return map[string]any{
		"success":     exitCode == 0 && !killed,
		"language":    lang,
		"stdout":      parsedStdout,
		"stdout_raw":  stdoutStr,
		"stderr":      stderrBuf.String(),
		"exit_code":   exitCode,
		"duration_ms": durationMs,
		"killed":      killed,
	}, nil
}

func (a *executeCode) environ(scratch string, extra map[string]string) []string {
	var env []string
	if a.cfg.InheritEnv {
		env = os.Environ()
	} else {
		env = []string{"PATH=" + os.Getenv("PATH")}
	}
	env = append(env, "HOME="+scratch, "TMPDIR="+scratch)
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}

// limitedWriter wraps a writer and silently discards bytes beyond the limit.
// Write always reports the full len(p) consumed so the subprocess never
// blocks on a full pipe.
type limitedWriter struct {
	w       io.Writer
	limit   int64
	written int64
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	total := len(p)
	remaining := lw.limit - lw.written
	if remaining <= 0 {
		return total, nil
	}
	if int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := lw.w.Write(p)
	lw.written += int64(n)
	if err != nil {
		return total, err
	}
	return total, nil
}
