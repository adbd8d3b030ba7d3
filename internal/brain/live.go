package brain

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/normanking/kindred/internal/live"
)

const (
	liveWSEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	// DefaultLiveModel is the streaming voice model.
	DefaultLiveModel = "gemini-2.0-flash-live-001"

	inputAudioMIME      = "audio/pcm;rate=16000"
	liveHandshakeWindow = 15 * time.Second
)

// LiveClient implements live.StreamClient over the bidirectional websocket
// API. One client runs at most one session at a time.
type LiveClient struct {
	apiKey   string
	endpoint string
	logger   zerolog.Logger

	connMu      sync.Mutex
	conn        *websocket.Conn
	isConnected bool
	closeCh     chan struct{}
}

// NewLiveClient creates a streaming client. The key is required at connect
// time, not construction, so a missing key surfaces as a session error.
func NewLiveClient(apiKey string, logger zerolog.Logger) *LiveClient {
	return &LiveClient{
		apiKey:   apiKey,
		endpoint: liveWSEndpoint,
		logger:   logger.With().Str("component", "brain-live").Logger(),
	}
}

// Outbound frames.

type liveSetupFrame struct {
	Setup liveSetup `json:"setup"`
}

type liveSetup struct {
	Model                    string                `json:"model"`
	GenerationConfig         *liveGenerationConfig `json:"generationConfig,omitempty"`
	SystemInstruction        *liveContent          `json:"systemInstruction,omitempty"`
	InputAudioTranscription  *struct{}             `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}             `json:"outputAudioTranscription,omitempty"`
}

type liveGenerationConfig struct {
	ResponseModalities []string          `json:"responseModalities,omitempty"`
	SpeechConfig       *liveSpeechConfig `json:"speechConfig,omitempty"`
}

type liveSpeechConfig struct {
	VoiceConfig *liveVoiceConfig `json:"voiceConfig,omitempty"`
}

type liveVoiceConfig struct {
	PrebuiltVoiceConfig *livePrebuiltVoice `json:"prebuiltVoiceConfig,omitempty"`
}

type livePrebuiltVoice struct {
	VoiceName string `json:"voiceName"`
}

type liveContent struct {
	Parts []livePart `json:"parts"`
}

type livePart struct {
	Text       string          `json:"text,omitempty"`
	InlineData *liveInlineData `json:"inlineData,omitempty"`
}

type liveInlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type liveRealtimeInputFrame struct {
	RealtimeInput liveRealtimeInput `json:"realtimeInput"`
}

type liveRealtimeInput struct {
	Audio *liveInlineData `json:"audio,omitempty"`
}

// Inbound frames.

type liveServerFrame struct {
	SetupComplete *struct{}          `json:"setupComplete,omitempty"`
	ServerContent *liveServerContent `json:"serverContent,omitempty"`
}

type liveServerContent struct {
	ModelTurn           *liveContent       `json:"modelTurn,omitempty"`
	TurnComplete        bool               `json:"turnComplete,omitempty"`
	Interrupted         bool               `json:"interrupted,omitempty"`
	InputTranscription  *liveTranscription `json:"inputTranscription,omitempty"`
	OutputTranscription *liveTranscription `json:"outputTranscription,omitempty"`
}

type liveTranscription struct {
	Text     string `json:"text"`
	Finished bool   `json:"finished"`
}

// Connect dials the live endpoint, performs setup, and starts the read loop.
// Handlers fire from the read goroutine.
func (c *LiveClient) Connect(ctx context.Context, cfg live.SessionConfig, handlers live.Handlers) error {
	if c.apiKey == "" {
		return fmt.Errorf("API key not configured")
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.isConnected {
		return fmt.Errorf("session already connected")
	}

	model := cfg.Model
	if model == "" {
		model = DefaultLiveModel
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, resp, err := dialer.DialContext(ctx, c.endpoint+"?key="+c.apiKey, nil)
	if err != nil {
		if resp != nil {
			c.logger.Error().Int("status", resp.StatusCode).Err(err).Msg("Live websocket dial failed")
		}
		return fmt.Errorf("websocket dial: %w", err)
	}

	if err := conn.WriteJSON(c.setupFrame(model, cfg)); err != nil {
		conn.Close()
		return fmt.Errorf("failed to send setup: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(liveHandshakeWindow))
	frame, err := readServerFrame(conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to read setup ack: %w", err)
	}
	conn.SetReadDeadline(time.Time{})
	if frame.SetupComplete == nil {
		conn.Close()
		return fmt.Errorf("unexpected frame before setup completion")
	}

	c.conn = conn
	c.isConnected = true
	c.closeCh = make(chan struct{})
	c.logger.Info().Str("model", model).Msg("Live session established")

	go c.readLoop(conn, c.closeCh, handlers)
	if handlers.OnOpen != nil {
		handlers.OnOpen()
	}
	return nil
}

func (c *LiveClient) setupFrame(model string, cfg live.SessionConfig) liveSetupFrame {
	setup := liveSetup{
		Model: "models/" + model,
		GenerationConfig: &liveGenerationConfig{
			ResponseModalities: []string{"AUDIO"},
		},
		InputAudioTranscription:  &struct{}{},
		OutputAudioTranscription: &struct{}{},
	}
	if cfg.VoiceName != "" {
		setup.GenerationConfig.SpeechConfig = &liveSpeechConfig{
			VoiceConfig: &liveVoiceConfig{
				PrebuiltVoiceConfig: &livePrebuiltVoice{VoiceName: cfg.VoiceName},
			},
		}
	}
	if cfg.SystemInstruction != "" {
		setup.SystemInstruction = &liveContent{
			Parts: []livePart{{Text: cfg.SystemInstruction}},
		}
	}
	return liveSetupFrame{Setup: setup}
}

// SendAudio forwards a raw PCM chunk as realtime input.
func (c *LiveClient) SendAudio(pcm []byte) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if !c.isConnected || c.conn == nil {
		return fmt.Errorf("not connected")
	}

	frame := liveRealtimeInputFrame{
		RealtimeInput: liveRealtimeInput{
			Audio: &liveInlineData{
				MIMEType: inputAudioMIME,
				Data:     base64.StdEncoding.EncodeToString(pcm),
			},
		},
	}
	return c.conn.WriteJSON(frame)
}

// Disconnect closes the session. Safe to call when not connected.
func (c *LiveClient) Disconnect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return nil
	}

	close(c.closeCh)
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(2*time.Second))

	err := c.conn.Close()
	c.conn = nil
	c.isConnected = false

	c.logger.Info().Msg("Live session closed")
	return err
}

func (c *LiveClient) readLoop(conn *websocket.Conn, closeCh chan struct{}, handlers live.Handlers) {
	defer c.teardown(conn, handlers)

	for {
		select {
		case <-closeCh:
			return
		default:
		}

		frame, err := readServerFrame(conn)
		if err != nil {
			select {
			case <-closeCh:
				// Local disconnect already in progress.
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.logger.Error().Err(err).Msg("Error reading live frame")
				}
			}
			return
		}
		if frame.ServerContent != nil {
			c.dispatch(frame.ServerContent, handlers)
		}
	}
}

func (c *LiveClient) dispatch(content *liveServerContent, handlers live.Handlers) {
	if content.Interrupted {
		c.logger.Debug().Msg("Model turn interrupted")
		if handlers.OnInterrupted != nil {
			handlers.OnInterrupted()
		}
	}

	if t := content.InputTranscription; t != nil && handlers.OnInputTranscription != nil {
		handlers.OnInputTranscription(t.Text, t.Finished)
	}
	if t := content.OutputTranscription; t != nil && handlers.OnOutputTranscription != nil {
		handlers.OnOutputTranscription(t.Text, t.Finished)
	}

	if content.ModelTurn != nil {
		for _, part := range content.ModelTurn.Parts {
			if part.Text != "" && handlers.OnContent != nil {
				handlers.OnContent(part.Text)
			}
			if part.InlineData != nil && handlers.OnAudio != nil {
				pcm, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
				if err != nil {
					c.logger.Warn().Err(err).Msg("Failed to decode model audio")
					continue
				}
				handlers.OnAudio(pcm)
			}
		}
	}

	if content.TurnComplete && handlers.OnTurnComplete != nil {
		handlers.OnTurnComplete()
	}
}

// teardown runs when the read loop exits for any reason, so a remote close
// reaches the session adapter even without a local Disconnect.
func (c *LiveClient) teardown(conn *websocket.Conn, handlers live.Handlers) {
	c.connMu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.isConnected = false
	}
	c.connMu.Unlock()
	conn.Close()

	if handlers.OnClose != nil {
		handlers.OnClose(nil)
	}
}

func readServerFrame(conn *websocket.Conn) (*liveServerFrame, error) {
	_, message, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	var frame liveServerFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		return nil, fmt.Errorf("failed to parse live frame: %w", err)
	}
	return &frame, nil
}
