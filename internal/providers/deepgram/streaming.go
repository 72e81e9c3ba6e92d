package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"hotmic/internal/domain"
	"hotmic/internal/ports"
)

const (
	defaultBaseURL = "https://api.deepgram.com/v1"
	defaultModel   = "nova-2"

	// audioBuffer is sized so short network stalls do not drop speech.
	audioBuffer  = 64
	closeTimeout = 2 * time.Second
)

// ErrMissingAPIKey is returned by Open when no API key is configured.
var ErrMissingAPIKey = errors.New("DEEPGRAM_API_KEY is not configured")

// Config controls Deepgram websocket settings.
type Config struct {
	APIKey      string
	APIBaseURL  string
	Model       string
	Language    string
	SmartFormat bool
}

// Recognizer implements ports.Recognizer over Deepgram live streaming.
type Recognizer struct {
	cfg    Config
	dialer *websocket.Dialer
	logger zerolog.Logger
}

func NewRecognizer(cfg Config, logger zerolog.Logger) *Recognizer {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	return &Recognizer{
		cfg:    cfg,
		dialer: websocket.DefaultDialer,
		logger: logger.With().Str("component", "deepgram").Logger(),
	}
}

// Configured reports whether an API key is available.
func (r *Recognizer) Configured() bool {
	return strings.TrimSpace(r.cfg.APIKey) != ""
}

func (r *Recognizer) Open(ctx context.Context, stream ports.MediaStream, cfg ports.RecognitionConfig) (ports.RecognitionSession, error) {
	if !r.Configured() {
		return nil, ErrMissingAPIKey
	}
	if stream == nil || !stream.Live() {
		return nil, errors.New("media stream is not live")
	}

	wsURL, err := buildListenURL(r.cfg, cfg)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+r.cfg.APIKey)

	conn, resp, err := r.dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to Deepgram websocket: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("failed to connect to Deepgram websocket: %w", err)
	}

	audio, unsubscribe := stream.Subscribe(audioBuffer)
	session := &streamingSession{
		conn:        conn,
		audio:       audio,
		unsubscribe: unsubscribe,
		events:      make(chan domain.RecognitionEvent, 64),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
		logger:      r.logger.With().Str("stream", stream.ID()).Logger(),
	}

	session.wg.Add(2)
	go session.readLoop()
	go session.writeLoop()
	go func() {
		session.wg.Wait()
		close(session.events)
		close(session.done)
		_ = conn.Close()
	}()

	go func() {
		select {
		case <-ctx.Done():
			_ = session.Abort()
		case <-session.done:
		}
	}()

	return session, nil
}

type streamingSession struct {
	conn        *websocket.Conn
	audio       <-chan []byte
	unsubscribe func()
	logger      zerolog.Logger

	events chan domain.RecognitionEvent
	quit   chan struct{}
	done   chan struct{}

	wg sync.WaitGroup

	writeMu   sync.Mutex
	stopOnce  sync.Once
	abortOnce sync.Once
}

func (s *streamingSession) Events() <-chan domain.RecognitionEvent {
	return s.events
}

// Stop ends the audio feed and lets Deepgram flush final results before it
// closes the socket.
func (s *streamingSession) Stop() error {
	s.stopOnce.Do(func() {
		s.unsubscribe()
		go func() {
			select {
			case <-s.done:
			case <-time.After(closeTimeout):
				_ = s.conn.Close()
			}
		}()
	})
	return nil
}

func (s *streamingSession) Abort() error {
	s.abortOnce.Do(func() {
		close(s.quit)
		s.unsubscribe()
		_ = s.conn.Close()
	})
	return nil
}

func (s *streamingSession) aborted() bool {
	select {
	case <-s.quit:
		return true
	default:
		return false
	}
}

func (s *streamingSession) write(messageType int, payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(messageType, payload)
}

func (s *streamingSession) writeLoop() {
	defer s.wg.Done()

	for chunk := range s.audio {
		if len(chunk) == 0 {
			continue
		}
		if err := s.write(websocket.BinaryMessage, chunk); err != nil {
			if !s.aborted() {
				s.logger.Debug().Err(err).Msg("failed to send audio")
			}
			return
		}
	}

	if s.aborted() {
		return
	}
	if err := s.write(websocket.TextMessage, []byte(`{"type":"CloseStream"}`)); err != nil {
		s.logger.Debug().Err(err).Msg("failed to close stream")
	}
}

func (s *streamingSession) readLoop() {
	defer s.wg.Done()

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			if !s.aborted() && !isNormalClose(err) {
				s.emit(domain.RecognitionEvent{
					Kind:    domain.RecognitionError,
					Code:    domain.ErrorCodeNetwork,
					Message: fmt.Sprintf("failed to read provider event: %v", err),
				})
			}
			// The reader owns the socket lifetime; make sure the writer unblocks.
			s.unsubscribe()
			return
		}

		var response deepgramResponse
		if err := json.Unmarshal(payload, &response); err != nil {
			continue
		}

		if strings.EqualFold(response.Type, "Error") {
			message := strings.TrimSpace(response.Message)
			if message == "" {
				message = "deepgram returned an unknown error"
			}
			s.emit(domain.RecognitionEvent{
				Kind:    domain.RecognitionError,
				Code:    classifyProviderError(message),
				Message: message,
			})
			continue
		}

		text, confidence := extractAlternative(response)
		if text == "" {
			continue
		}
		s.emit(domain.RecognitionEvent{
			Kind: domain.RecognitionResult,
			Fragments: []domain.Fragment{{
				Text:       text,
				Final:      response.IsFinal || response.SpeechFinal,
				Confidence: confidence,
			}},
		})
	}
}

func (s *streamingSession) emit(event domain.RecognitionEvent) {
	select {
	case s.events <- event:
	case <-s.quit:
	}
}

func isNormalClose(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	)
}

func classifyProviderError(message string) domain.ErrorCode {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "unauthorized"),
		strings.Contains(lower, "credentials"),
		strings.Contains(lower, "insufficient permissions"):
		return domain.ErrorCodeServiceNotAllowed
	case strings.Contains(lower, "language"):
		return domain.ErrorCodeLanguageNotSupport
	default:
		return domain.ErrorCodeNetwork
	}
}

type alternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

type deepgramResponse struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`

	Channel struct {
		Alternatives []alternative `json:"alternatives"`
	} `json:"channel"`

	Results struct {
		Channels []struct {
			Alternatives []alternative `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

func extractAlternative(response deepgramResponse) (string, float64) {
	if len(response.Channel.Alternatives) > 0 {
		alt := response.Channel.Alternatives[0]
		if text := strings.TrimSpace(alt.Transcript); text != "" {
			return text, alt.Confidence
		}
	}
	if len(response.Results.Channels) > 0 && len(response.Results.Channels[0].Alternatives) > 0 {
		alt := response.Results.Channels[0].Alternatives[0]
		return strings.TrimSpace(alt.Transcript), alt.Confidence
	}
	return "", 0
}

func buildListenURL(providerCfg Config, streamCfg ports.RecognitionConfig) (string, error) {
	base := providerCfg.APIBaseURL
	if base == "" {
		base = defaultBaseURL
	}
	base = strings.TrimSpace(base)

	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	listenURL, err := url.Parse(base + "/listen")
	if err != nil {
		return "", fmt.Errorf("invalid Deepgram API base URL: %w", err)
	}

	query := listenURL.Query()
	if streamCfg.Encoding == "" {
		streamCfg.Encoding = "linear16"
	}
	if streamCfg.SampleRate <= 0 {
		streamCfg.SampleRate = 16000
	}
	if streamCfg.Channels <= 0 {
		streamCfg.Channels = 1
	}
	language := streamCfg.Language
	if language == "" {
		language = providerCfg.Language
	}
	query.Set("model", providerCfg.Model)
	query.Set("encoding", streamCfg.Encoding)
	query.Set("sample_rate", fmt.Sprintf("%d", streamCfg.SampleRate))
	query.Set("channels", fmt.Sprintf("%d", streamCfg.Channels))
	query.Set("interim_results", fmt.Sprintf("%t", streamCfg.InterimResults))
	query.Set("smart_format", fmt.Sprintf("%t", providerCfg.SmartFormat))
	if language != "" {
		query.Set("language", language)
	}
	listenURL.RawQuery = query.Encode()
	return listenURL.String(), nil
}
