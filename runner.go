package cgihttp

import (
	"bytes"
	"context"
	"os/exec"
	"sort"

	"github.com/pkg/errors"
)

// Runner executes one backend exchange as a child process. The concrete
// implementation is ProcessRunner; adapters accept any Runner so tests can
// substitute one.
type Runner interface {
	Run(ctx context.Context, argv []string, environ map[string]string, stdin []byte) (stdout, stderr []byte, err error)
}

// ProcessRunner spawns one OS process per call: the environment carries the
// CGI variables, the request body is written to stdin, stdout is captured
// until the process exits or ctx expires. No process outlives the call on
// any path; on expiry the process is killed before return.
type ProcessRunner struct {
	// Dir is the working directory for the spawned process. Empty means
	// the caller's.
	Dir string
}

func (r *ProcessRunner) Run(ctx context.Context, argv []string, environ map[string]string, stdin []byte) ([]byte, []byte, error) {
	if len(argv) == 0 {
		return nil, nil, errors.New("cgihttp: empty argv")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = r.Dir
	cmd.Env = environStrings(environ)
	cmd.Stdin = bytes.NewReader(stdin)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), stderr.Bytes(), nil
	}

	if ctx.Err() == context.DeadlineExceeded {
		return stdout.Bytes(), stderr.Bytes(),
			errors.WithMessagef(ErrTimeout, "cgi process %s", argv[0])
	}

	if ctx.Err() != nil {
		return stdout.Bytes(), stderr.Bytes(),
			errors.Wrapf(ctx.Err(), "cgi process %s", argv[0])
	}

	//the process ran and exited nonzero; the adapter decides whether the
	//captured output is still usable
	var exit *exec.ExitError
	if errors.As(err, &exit) {
		return stdout.Bytes(), stderr.Bytes(), &ExitError{
			Code:   exit.ExitCode(),
			Stdout: stdout.Bytes(),
			Stderr: stderr.Bytes(),
		}
	}

	//spawn failure: missing executable, permission denied
	return stdout.Bytes(), stderr.Bytes(),
		errors.WithMessagef(ErrBackendUnavailable, "spawn %s: %v", argv[0], err)
}

// environStrings flattens the variable map into the sorted KEY=value form
// the OS wants. Sorted so process invocations are reproducible.
func environStrings(environ map[string]string) []string {
	pairs := make([]string, 0, len(environ))
	for k, v := range environ {
		pairs = append(pairs, k+"="+v)
	}

	sort.Strings(pairs)

	return pairs
}
