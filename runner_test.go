package cgihttp

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
)

func TestProcessRunner(t *testing.T) {
	runner := &ProcessRunner{}

	tests := map[string]struct {
		Argv    []string
		Environ map[string]string
		Stdin   string
		Stdout  string
	}{
		"captures stdout": {
			Argv:   []string{"sh", "-c", `printf 'hi'`},
			Stdout: "hi",
		},
		"passes environment": {
			Argv:    []string{"sh", "-c", `printf '%s' "$GREETING"`},
			Environ: map[string]string{"GREETING": "hello"},
			Stdout:  "hello",
		},
		"feeds stdin": {
			Argv:   []string{"sh", "-c", "cat"},
			Stdin:  "ECHO!",
			Stdout: "ECHO!",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			stdout, stderr, err := runner.Run(context.Background(), tt.Argv, tt.Environ, []byte(tt.Stdin))
			if err != nil {
				t.Fatalf("unexpected error: %v (stderr %q)", err, stderr)
			}
			if string(stdout) != tt.Stdout {
				t.Fatalf("want %q got %q", tt.Stdout, stdout)
			}
		})
	}
}

func TestProcessRunnerNonzeroExit(t *testing.T) {
	runner := &ProcessRunner{}

	stdout, _, err := runner.Run(context.Background(),
		[]string{"sh", "-c", `printf 'partial'; exit 3`}, nil, nil)

	var exit *ExitError
	if !errors.As(err, &exit) {
		t.Fatalf("want *ExitError got %v", err)
	}
	if exit.Code != 3 {
		t.Fatalf("want exit code 3 got %d", exit.Code)
	}
	if string(stdout) != "partial" || string(exit.Stdout) != "partial" {
		t.Fatalf("partial output not kept: %q / %q", stdout, exit.Stdout)
	}
}

func TestProcessRunnerTimeout(t *testing.T) {
	runner := &ProcessRunner{}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, _, err := runner.Run(ctx, []string{"sh", "-c", "sleep 5"}, nil, nil)

	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("want ErrTimeout got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("process was not killed on timeout, took %v", elapsed)
	}
}

func TestProcessRunnerSpawnFailure(t *testing.T) {
	runner := &ProcessRunner{}

	_, _, err := runner.Run(context.Background(), []string{"/no/such/binary"}, nil, nil)
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("want ErrBackendUnavailable got %v", err)
	}
}

func TestProcessRunnerEmptyArgv(t *testing.T) {
	runner := &ProcessRunner{}

	if _, _, err := runner.Run(context.Background(), nil, nil, nil); err == nil {
		t.Fatal("expected error for empty argv")
	}
}
