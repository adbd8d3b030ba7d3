package brain

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/kindred/internal/convo"
	"github.com/normanking/kindred/internal/live"
)

var upgrader = websocket.Upgrader{}

// liveTestServer speaks the bidirectional wire protocol: it acks setup, then
// replays the scripted server frames once audio arrives.
func liveTestServer(t *testing.T, script []liveServerFrame) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		var setup liveSetupFrame
		if err := conn.ReadJSON(&setup); err != nil {
			t.Errorf("read setup: %v", err)
			return
		}
		if !strings.HasPrefix(setup.Setup.Model, "models/") {
			t.Errorf("model missing models/ prefix: %q", setup.Setup.Model)
		}
		if err := conn.WriteJSON(liveServerFrame{SetupComplete: &struct{}{}}); err != nil {
			return
		}

		var input liveRealtimeInputFrame
		if err := conn.ReadJSON(&input); err != nil {
			return
		}
		if input.RealtimeInput.Audio == nil || input.RealtimeInput.Audio.MIMEType != inputAudioMIME {
			t.Errorf("unexpected realtime input frame: %+v", input)
		}

		for _, frame := range script {
			if err := conn.WriteJSON(frame); err != nil {
				return
			}
		}
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
	}))
}

type liveRecorder struct {
	mu       sync.Mutex
	opened   bool
	closed   chan struct{}
	inputs   []string
	outputs  []string
	contents []string
	audio    [][]byte
	complete int
	interr   int
}

func newLiveRecorder() *liveRecorder {
	return &liveRecorder{closed: make(chan struct{})}
}

func (r *liveRecorder) handlers() live.Handlers {
	return live.Handlers{
		OnOpen:  func() { r.mu.Lock(); r.opened = true; r.mu.Unlock() },
		OnClose: func(error) { close(r.closed) },
		OnInterrupted: func() {
			r.mu.Lock()
			r.interr++
			r.mu.Unlock()
		},
		OnAudio: func(pcm []byte) {
			r.mu.Lock()
			r.audio = append(r.audio, pcm)
			r.mu.Unlock()
		},
		OnInputTranscription: func(text string, finished bool) {
			r.mu.Lock()
			r.inputs = append(r.inputs, text)
			r.mu.Unlock()
		},
		OnOutputTranscription: func(text string, finished bool) {
			r.mu.Lock()
			r.outputs = append(r.outputs, text)
			r.mu.Unlock()
		},
		OnContent: func(text string) {
			r.mu.Lock()
			r.contents = append(r.contents, text)
			r.mu.Unlock()
		},
		OnTurnComplete: func() {
			r.mu.Lock()
			r.complete++
			r.mu.Unlock()
		},
	}
}

func TestLiveClient_SessionRoundTrip(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03}
	script := []liveServerFrame{
		{ServerContent: &liveServerContent{
			InputTranscription: &liveTranscription{Text: "hello there", Finished: true},
		}},
		{ServerContent: &liveServerContent{
			ModelTurn: &liveContent{Parts: []livePart{
				{Text: "Hi!"},
				{InlineData: &liveInlineData{
					MIMEType: "audio/pcm",
					Data:     base64.StdEncoding.EncodeToString(pcm),
				}},
			}},
		}},
		{ServerContent: &liveServerContent{
			OutputTranscription: &liveTranscription{Text: "Hi!", Finished: true},
			TurnComplete:        true,
		}},
	}

	server := liveTestServer(t, script)
	defer server.Close()

	client := NewLiveClient("test-key", zerolog.Nop())
	client.endpoint = "ws" + strings.TrimPrefix(server.URL, "http")

	recorder := newLiveRecorder()
	require.NoError(t, client.Connect(context.Background(), live.SessionConfig{
		Model:             "test-model",
		SystemInstruction: "be kind",
		VoiceName:         "Aoede",
	}, recorder.handlers()))

	require.NoError(t, client.SendAudio([]byte{0xAA}))

	select {
	case <-recorder.closed:
	case <-time.After(3 * time.Second):
		t.Fatal("session did not close")
	}

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	assert.True(t, recorder.opened)
	assert.Equal(t, []string{"hello there"}, recorder.inputs)
	assert.Equal(t, []string{"Hi!"}, recorder.outputs)
	assert.Equal(t, []string{"Hi!"}, recorder.contents)
	require.Len(t, recorder.audio, 1)
	assert.Equal(t, pcm, recorder.audio[0])
	assert.Equal(t, 1, recorder.complete)
}

func TestLiveClient_InterruptedFrame(t *testing.T) {
	script := []liveServerFrame{
		{ServerContent: &liveServerContent{Interrupted: true}},
	}
	server := liveTestServer(t, script)
	defer server.Close()

	client := NewLiveClient("test-key", zerolog.Nop())
	client.endpoint = "ws" + strings.TrimPrefix(server.URL, "http")

	recorder := newLiveRecorder()
	require.NoError(t, client.Connect(context.Background(), live.SessionConfig{}, recorder.handlers()))
	require.NoError(t, client.SendAudio([]byte{0x01}))

	select {
	case <-recorder.closed:
	case <-time.After(3 * time.Second):
		t.Fatal("session did not close")
	}

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	assert.Equal(t, 1, recorder.interr)
}

func TestLiveClient_RequiresAPIKey(t *testing.T) {
	client := NewLiveClient("", zerolog.Nop())
	err := client.Connect(context.Background(), live.SessionConfig{}, live.Handlers{})
	assert.Error(t, err)
}

func TestLiveClient_SendAudioRequiresConnection(t *testing.T) {
	client := NewLiveClient("test-key", zerolog.Nop())
	assert.Error(t, client.SendAudio([]byte{0x01}))
	assert.NoError(t, client.Disconnect(), "disconnect without a session is a no-op")
}

func TestHistoryContents_MapsRolesAndSkipsSystem(t *testing.T) {
	turns := []convo.Turn{
		{Role: convo.RoleUser, Text: "hi", IsFinal: true},
		{Role: convo.RoleSystem, Text: "an error occurred while generating a response", IsFinal: true},
		{Role: convo.RoleAgent, Text: "hello!", IsFinal: true},
		{Role: convo.RoleUser, Text: "   ", IsFinal: true},
	}

	contents := historyContents(turns)
	require.Len(t, contents, 2)
	assert.Equal(t, "user", string(contents[0].Role))
	assert.Equal(t, "model", string(contents[1].Role))
}
