package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
)

// process is a started agent CLI.
type process interface {
	Stdin() io.WriteCloser
	Stdout() io.Reader
	// Stderr returns the captured tail of the process's standard error.
	Stderr() string
	Wait() error
}

// startFunc starts the agent binary. Swapped out in tests.
type startFunc func(ctx context.Context, name string, args []string, dir string, env []string) (process, error)

// execProcess wraps an exec.Cmd to implement process.
type execProcess struct {
	command *exec.Cmd
	stdin   io.WriteCloser
	stdout  io.ReadCloser
	stderr  *tailBuffer
}

func (p *execProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *execProcess) Stdout() io.Reader     { return p.stdout }
func (p *execProcess) Stderr() string        { return p.stderr.String() }
func (p *execProcess) Wait() error           { return p.command.Wait() }

func startExec(ctx context.Context, name string, args []string, dir string, env []string) (process, error) {
	command := exec.CommandContext(ctx, name, args...)
	command.Dir = dir
	command.Env = append(os.Environ(), env...)

	stderr := &tailBuffer{limit: 8 * 1024}
	command.Stderr = stderr

	stdin, err := command.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}

	stdout, err := command.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}

	if err := command.Start(); err != nil {
		stdin.Close()
		return nil, fmt.Errorf("starting %s: %w", name, err)
	}

	return &execProcess{
		command: command,
		stdin:   stdin,
		stdout:  stdout,
		stderr:  stderr,
	}, nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Write(p)
	if over := b.buf.Len() - b.limit; over > 0 {
		b.buf.Next(over)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
