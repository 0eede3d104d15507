package capture

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-levelmeter/internal/types"
	"github.com/oszuidwest/zwfm-levelmeter/internal/util"
)

// readBufferSize is the stdout read size; 4096 bytes is ~43ms of 48kHz mono s16le.
const readBufferSize = 4096

// CommandSource captures mono s16le PCM from an external process (arecord or
// FFmpeg) and restarts it with exponential backoff when it exits.
type CommandSource struct {
	device     string
	ffmpegPath string
	sampleRate int
	blockSize  int

	// Command and Args override the platform capture command when Command is set.
	Command string
	Args    []string

	backoff *util.Backoff
	p       producer

	mu         sync.Mutex
	lastError  string
	retryCount int
}

// NewCommandSource creates a command-backed source for device.
// An empty device selects the platform default.
func NewCommandSource(device, ffmpegPath string, sampleRate, blockSize int) *CommandSource {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &CommandSource{
		device:     device,
		ffmpegPath: ffmpegPath,
		sampleRate: sampleRate,
		blockSize:  blockSize,
		backoff:    util.NewBackoff(types.InitialRetryDelay, types.MaxRetryDelay),
	}
}

// Open starts the capture process. It fails with ErrCaptureUnavailable if the
// command cannot be resolved or started.
func (s *CommandSource) Open(fn BlockFunc) error {
	if s.p.running() {
		return ErrSourceOpen
	}

	name, args, err := s.resolve()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCaptureUnavailable, err)
	}
	if _, err := exec.LookPath(name); err != nil {
		return fmt.Errorf("%w: %w", ErrCaptureUnavailable, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	first, err := s.startProcess(ctx, name, args)
	if err != nil {
		cancel()
		return fmt.Errorf("%w: %w", ErrCaptureUnavailable, err)
	}

	s.mu.Lock()
	s.retryCount = 0
	s.lastError = ""
	s.mu.Unlock()
	s.backoff.Reset()

	err = s.p.start(func(loopCtx context.Context) {
		defer cancel()
		stopForward := context.AfterFunc(loopCtx, cancel)
		defer stopForward()
		s.runLoop(ctx, first, name, args, newBlocker(s.blockSize, func(block []float32, n int) {
			if ctx.Err() == nil {
				fn(block, n)
			}
		}))
	})
	if err != nil {
		cancel()
		_ = first.cmd.Wait()
		return err
	}
	return nil
}

// Close stops the capture process and waits for it to exit.
func (s *CommandSource) Close() error {
	s.p.stop()
	return nil
}

// LastError returns the most recent capture process failure, if any.
func (s *CommandSource) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

func (s *CommandSource) resolve() (string, []string, error) {
	if s.Command != "" {
		return s.Command, s.Args, nil
	}
	return BuildCaptureCommand(s.device, s.ffmpegPath, s.sampleRate)
}

// process is a running capture command.
type process struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *bytes.Buffer
}

func (s *CommandSource) startProcess(ctx context.Context, name string, args []string) (*process, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	// Sends a graceful signal first, waits, then kills.
	cmd.Cancel = func() error {
		return util.GracefulSignal(cmd.Process)
	}
	cmd.WaitDelay = types.ShutdownTimeout

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", name, err)
	}

	slog.Info("started audio capture", "command", name, "device", s.device)
	return &process{cmd: cmd, stdout: stdout, stderr: &stderr}, nil
}

// runLoop pumps the current process and restarts it until ctx is cancelled
// or the retry budget is exhausted.
func (s *CommandSource) runLoop(ctx context.Context, proc *process, name string, args []string, blk *blocker) {
	buf := make([]byte, readBufferSize)

	for {
		startTime := time.Now()
		err := pump(proc, buf, blk)
		runDuration := time.Since(startTime)

		if ctx.Err() != nil {
			return
		}

		errMsg := "capture process exited"
		if err != nil {
			errMsg = err.Error()
		}
		if stderr := util.ExtractLastError(proc.stderr.String()); stderr != "" {
			errMsg = stderr
		}

		s.mu.Lock()
		s.lastError = errMsg
		if runDuration >= types.SuccessThreshold {
			s.retryCount = 0
			s.backoff.Reset()
		} else {
			s.retryCount++
		}
		retryCount := s.retryCount
		s.mu.Unlock()

		slog.Error("audio capture error", "error", errMsg)

		if retryCount >= types.MaxRetries {
			slog.Error("audio capture failed, giving up", "attempts", types.MaxRetries)
			s.mu.Lock()
			s.lastError = fmt.Sprintf("Stopped after %d failed attempts: %s", types.MaxRetries, errMsg)
			s.mu.Unlock()
			return
		}

		for {
			retryDelay := s.backoff.Next()
			slog.Info("audio capture stopped, waiting before restart",
				"delay", retryDelay, "attempt", retryCount+1, "max_retries", types.MaxRetries)

			select {
			case <-ctx.Done():
				return
			case <-time.After(retryDelay):
			}

			blk.reset()
			proc, err = s.startProcess(ctx, name, args)
			if err == nil {
				break
			}
			if ctx.Err() != nil {
				return
			}
			slog.Error("failed to restart audio capture", "error", err)
			s.mu.Lock()
			s.lastError = err.Error()
			s.retryCount++
			retryCount = s.retryCount
			s.mu.Unlock()
			if retryCount >= types.MaxRetries {
				return
			}
		}
	}
}

// pump forwards process output to the blocker until the process exits.
func pump(proc *process, buf []byte, blk *blocker) error {
	for {
		n, err := proc.stdout.Read(buf)
		if n > 0 {
			blk.writeS16LE(buf[:n])
		}
		if err != nil {
			break
		}
	}
	return proc.cmd.Wait()
}
