package capture

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Ndahiroloicke/Transcripto/internal/audio"
)

// CommandSource captures audio by running an external recorder (ffmpeg, arecord)
// that writes raw little-endian PCM-16 to stdout.
type CommandSource struct {
	command      string
	args         []string
	probeTimeout time.Duration
	logger       *slog.Logger
}

// NewCommandSource creates a command-driven capture source.
// Args may contain {device}, {rate} and {channels} placeholders.
func NewCommandSource(command string, args []string, probeTimeout time.Duration, logger *slog.Logger) *CommandSource {
	return &CommandSource{
		command:      command,
		args:         args,
		probeTimeout: probeTimeout,
		logger:       logger,
	}
}

// ExpandArgs substitutes the stream placeholders in args
func ExpandArgs(args []string, cfg StreamConfig) []string {
	r := strings.NewReplacer(
		"{device}", cfg.Device,
		"{rate}", strconv.Itoa(cfg.SampleRate),
		"{channels}", strconv.Itoa(cfg.Channels),
	)
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = r.Replace(a)
	}
	return out
}

// Open starts the recorder and waits up to the probe timeout for the first frame.
// A recorder that exits inside that window is reported as ErrDeviceUnavailable.
func (s *CommandSource) Open(ctx context.Context, cfg StreamConfig) (Stream, error) {
	if cfg.FrameSize <= 0 {
		return nil, fmt.Errorf("frame size must be positive, got %d", cfg.FrameSize)
	}

	args := ExpandArgs(s.args, cfg)
	cmd := exec.Command(s.command, args...)
	stderr := &tailBuffer{limit: 4096}
	cmd.Stderr = stderr
	cmd.WaitDelay = time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: failed to start %s: %v", ErrDeviceUnavailable, s.command, err)
	}

	s.logger.Debug("Capture command started",
		slog.String("command", s.command),
		slog.String("args", strings.Join(args, " ")),
		slog.Int("pid", cmd.Process.Pid))

	stream := &commandStream{
		cmd:        cmd,
		stdout:     stdout,
		stderr:     stderr,
		frameBytes: cfg.FrameSize * 2,
		frames:     make(chan audio.Frame, 64),
		done:       make(chan struct{}),
		exited:     make(chan struct{}),
	}
	go stream.readLoop()

	if s.probeTimeout <= 0 {
		return stream, nil
	}

	timer := time.NewTimer(s.probeTimeout)
	defer timer.Stop()

	select {
	case frame, ok := <-stream.frames:
		if !ok {
			detail := stream.failureDetail()
			stream.Close()
			return nil, fmt.Errorf("%w: %s", ErrDeviceUnavailable, detail)
		}
		stream.pending = &frame
	case <-timer.C:
		// Still running without data yet; some devices take a while to deliver.
	case <-ctx.Done():
		stream.Close()
		return nil, ctx.Err()
	}

	return stream, nil
}

type commandStream struct {
	cmd        *exec.Cmd
	stdout     io.ReadCloser
	stderr     *tailBuffer
	frameBytes int

	frames  chan audio.Frame
	pending *audio.Frame

	done      chan struct{}
	exited    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	readErr error
	waitErr error
	closed  bool
}

func (s *commandStream) readLoop() {
	defer close(s.exited)
	defer close(s.frames)

	reader := bufio.NewReaderSize(s.stdout, s.frameBytes*4)
	buf := make([]byte, s.frameBytes)

	for {
		n, err := io.ReadFull(reader, buf)
		if n >= 2 {
			frame := audio.Frame{
				Samples:    bytesToSamples(buf[:n-n%2]),
				CapturedAt: time.Now(),
			}
			select {
			case s.frames <- frame:
			case <-s.done:
			}
		}
		if err != nil {
			waitErr := s.cmd.Wait()
			s.mu.Lock()
			s.readErr = err
			s.waitErr = waitErr
			s.mu.Unlock()
			return
		}
	}
}

// ReadFrame returns the next frame from the recorder
func (s *commandStream) ReadFrame(timeout time.Duration) (audio.Frame, error) {
	if s.pending != nil {
		frame := *s.pending
		s.pending = nil
		return frame, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case frame, ok := <-s.frames:
		if ok {
			return frame, nil
		}
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return audio.Frame{}, ErrEndOfStream
		}
		return audio.Frame{}, fmt.Errorf("%w: %s", ErrReadFailure, s.failureDetail())
	case <-timer.C:
		return audio.Frame{}, ErrFrameTimeout
	}
}

// Close stops the recorder and waits for it to exit
func (s *commandStream) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		close(s.done)
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		_ = s.stdout.Close()
	})
	<-s.exited
	return nil
}

func (s *commandStream) failureDetail() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	parts := make([]string, 0, 3)
	if s.waitErr != nil {
		parts = append(parts, s.waitErr.Error())
	} else if s.readErr != nil {
		parts = append(parts, "recorder exited: "+s.readErr.Error())
	}
	if msg := strings.TrimSpace(s.stderr.String()); msg != "" {
		parts = append(parts, msg)
	}
	if len(parts) == 0 {
		return "recorder exited"
	}
	return strings.Join(parts, ": ")
}

// tailBuffer keeps the last limit bytes written to it
type tailBuffer struct {
	limit int
	mu    sync.Mutex
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
