package capture

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/capsule-io/timelapse-trip/pkg/log"
)

// Process is a running capture process.
type Process interface {
	Pid() int

	// RequestStop sends the quit instruction on the process input.
	RequestStop() error

	// Kill terminates the process immediately.
	Kill() error

	// Done is closed once the process has exited and been reaped.
	Done() <-chan struct{}

	// Err returns the exit error. Only valid after Done is closed.
	Err() error
}

// Launcher starts capture processes.
type Launcher interface {
	Launch(ctx context.Context, frameRate float64) (Process, error)
}

// quitInstruction is what the capture tool (ffmpeg) reads as "finish and exit".
var quitInstruction = []byte("q\n")

// ExecLauncher runs Command with Args followed by the frame rate.
type ExecLauncher struct {
	Command string
	Args    []string
	Dir     string

	// WaitDelay bounds how long reaping waits for the output pipes after exit.
	WaitDelay time.Duration
}

func (l *ExecLauncher) Launch(_ context.Context, frameRate float64) (Process, error) {
	args := append(append([]string{}, l.Args...), strconv.FormatFloat(frameRate, 'g', -1, 64))

	// Not CommandContext: termination goes through the graceful-stop protocol only.
	cmd := exec.Command(l.Command, args...)
	cmd.Dir = l.Dir
	cmd.WaitDelay = l.WaitDelay

	logger := log.WithName("capture.process")
	cmd.Stdout = &lineWriter{log: logger, stream: "stdout"}
	cmd.Stderr = &lineWriter{log: logger, stream: "stderr"}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdin of %s: %w", l.Command, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", l.Command, err)
	}

	p := &execProcess{
		cmd:   cmd,
		stdin: stdin,
		done:  make(chan struct{}),
	}
	go p.wait()

	logger.Info("Capture process started", "pid", cmd.Process.Pid, "command", l.Command, "args", args)
	return p, nil
}

type execProcess struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser

	stopOnce sync.Once
	done     chan struct{}
	err      error
}

func (p *execProcess) wait() {
	p.err = p.cmd.Wait()
	close(p.done)
}

func (p *execProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *execProcess) RequestStop() error {
	var err error
	p.stopOnce.Do(func() {
		if _, werr := p.stdin.Write(quitInstruction); werr != nil {
			err = fmt.Errorf("failed to send quit instruction: %w", werr)
		}
		_ = p.stdin.Close()
	})
	return err
}

func (p *execProcess) Kill() error {
	return p.cmd.Process.Kill()
}

func (p *execProcess) Done() <-chan struct{} {
	return p.done
}

func (p *execProcess) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// lineWriter forwards process output to the logger line by line.
type lineWriter struct {
	log    log.Logger
	stream string

	mu  sync.Mutex
	buf bytes.Buffer
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// Keep the partial line for the next write.
			w.buf.Reset()
			w.buf.WriteString(line)
			break
		}
		w.log.Debug(string(bytes.TrimRight([]byte(line), "\r\n")), "stream", w.stream)
	}
	return len(p), nil
}
