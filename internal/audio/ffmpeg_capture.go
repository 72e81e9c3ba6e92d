package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"hotmic/internal/domain"
	"hotmic/internal/ports"
)

const (
	startupGrace = 250 * time.Millisecond
	stopGrace    = 1200 * time.Millisecond
)

var permissionHints = []string{
	"permission denied",
	"operation not permitted",
	"not authorized",
	"access denied",
}

// FFMPEGSource captures microphone PCM audio using ffmpeg. One capture
// process feeds every subscriber of the stream it returns.
type FFMPEGSource struct {
	command  string
	defaults ports.AudioConfig
	logger   zerolog.Logger
	perms    *Permissions
}

func NewFFMPEGSource(command string, defaults ports.AudioConfig, logger zerolog.Logger) *FFMPEGSource {
	if command == "" {
		command = "ffmpeg"
	}
	s := &FFMPEGSource{
		command:  command,
		defaults: withDefaults(defaults),
		logger:   logger.With().Str("component", "audio").Logger(),
	}
	s.perms = newPermissions(s.probe)
	return s
}

// Permissions tracks microphone access as observed by this source.
func (s *FFMPEGSource) Permissions() *Permissions {
	return s.perms
}

func (s *FFMPEGSource) Acquire(ctx context.Context, cfg ports.AudioConfig) (ports.MediaStream, error) {
	stream, err := s.start(ctx, s.merge(cfg))
	if err != nil {
		if errors.Is(err, ports.ErrPermissionDenied) {
			s.perms.observe(domain.PermissionDenied)
		}
		return nil, err
	}
	s.perms.observe(domain.PermissionGranted)
	return stream, nil
}

// probe opens and immediately releases a capture to test device access.
func (s *FFMPEGSource) probe(ctx context.Context) error {
	stream, err := s.start(ctx, s.defaults)
	if err != nil {
		return err
	}
	return stream.Release()
}

func (s *FFMPEGSource) start(ctx context.Context, cfg ports.AudioConfig) (*ffmpegStream, error) {
	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "s16le",
		"-",
	}

	// The process outlives ctx; Release stops it.
	cmd := exec.Command(s.command, args...)
	cmd.WaitDelay = stopGrace
	stderr := &lockedBuffer{}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		return nil, classifyExit(err, stderr.String())
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-waitErr
		return nil, ctx.Err()
	case <-time.After(startupGrace):
	}

	stream := &ffmpegStream{
		id:        uuid.NewString(),
		chunkSize: cfg.ChunkSize,
		stdout:    stdout,
		stderr:    stderr,
		process:   cmd.Process,
		waitErr:   waitErr,
		subs:      make(map[int]chan []byte),
		logger:    s.logger,
	}
	stream.live.Store(true)
	go stream.readLoop()

	s.logger.Debug().Str("stream", stream.id).Str("device", cfg.InputDevice).Msg("microphone capture started")
	return stream, nil
}

func (s *FFMPEGSource) merge(cfg ports.AudioConfig) ports.AudioConfig {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = s.defaults.SampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = s.defaults.Channels
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = s.defaults.InputFormat
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = s.defaults.InputDevice
	}
	if cfg.ChunkSize < 256 {
		cfg.ChunkSize = s.defaults.ChunkSize
	}
	return cfg
}

func withDefaults(cfg ports.AudioConfig) ports.AudioConfig {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}
	if cfg.ChunkSize < 256 {
		cfg.ChunkSize = 4096
	}
	return cfg
}

// classifyExit turns an early ffmpeg exit into an error, mapping device
// access failures to ports.ErrPermissionDenied.
func classifyExit(err error, stderr string) error {
	detail := strings.TrimSpace(stderr)
	lower := strings.ToLower(detail)
	for _, hint := range permissionHints {
		if strings.Contains(lower, hint) {
			return fmt.Errorf("%w: %s", ports.ErrPermissionDenied, detail)
		}
	}
	if err != nil {
		return fmt.Errorf("ffmpeg exited before capture started: %w: %s", err, detail)
	}
	return errors.New("ffmpeg exited before capture started")
}

type ffmpegStream struct {
	id        string
	chunkSize int
	stdout    io.ReadCloser
	stderr    *lockedBuffer
	process   *os.Process
	waitErr   <-chan error
	logger    zerolog.Logger

	live atomic.Bool

	mu     sync.Mutex
	subs   map[int]chan []byte
	next   int
	closed bool

	releaseOnce sync.Once
	releaseErr  error
}

func (s *ffmpegStream) ID() string { return s.id }

func (s *ffmpegStream) Live() bool { return s.live.Load() }

func (s *ffmpegStream) Subscribe(buffer int) (<-chan []byte, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan []byte, max(buffer, 1))
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	id := s.next
	s.next++
	s.subs[id] = ch
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub)
		}
	}
}

func (s *ffmpegStream) readLoop() {
	defer s.closeSubscribers()

	buf := make([]byte, s.chunkSize)
	for {
		n, err := s.stdout.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.broadcast(chunk)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				s.logger.Warn().Err(err).Str("stream", s.id).Msg("audio capture error")
			}
			return
		}
	}
}

func (s *ffmpegStream) broadcast(chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- chunk:
		default:
		}
	}
}

func (s *ffmpegStream) closeSubscribers() {
	s.live.Store(false)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}

func (s *ffmpegStream) Release() error {
	s.releaseOnce.Do(func() {
		s.live.Store(false)
		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.releaseErr = normalizeStopErr(err)
			}
		case <-time.After(stopGrace):
			if s.process != nil {
				_ = s.process.Kill()
			}
			err, ok := <-s.waitErr
			if ok {
				s.releaseErr = normalizeStopErr(err)
			}
		}

		if closeErr := s.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
			if s.releaseErr == nil {
				s.releaseErr = closeErr
			}
		}

		if s.releaseErr != nil {
			if detail := strings.TrimSpace(s.stderr.String()); detail != "" {
				s.releaseErr = fmt.Errorf("%w: %s", s.releaseErr, detail)
			}
		}
		s.closeSubscribers()
	})

	return s.releaseErr
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

// lockedBuffer collects stderr written by the exec copier goroutine.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
