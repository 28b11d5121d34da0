package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mcdev12/pointing/go/internal/estimation/engine"
	"github.com/mcdev12/pointing/go/internal/estimation/events"
	"github.com/mcdev12/pointing/go/internal/estimation/gateway/mocks"
	"github.com/mcdev12/pointing/go/internal/estimation/repository"
	"github.com/mcdev12/pointing/go/internal/estimation/store"
	"github.com/mcdev12/pointing/go/internal/models"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type testServer struct {
	*httptest.Server
	service *Service
}

func newTestServer(t *testing.T, config Config) *testServer {
	t.Helper()
	repo := repository.NewRepository(store.NewMemoryStore(nil), time.Hour)
	service := NewService(config, engine.NewEngine(repo, nil, 0))

	mux := http.NewServeMux()
	service.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = service.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		srv.Close()
	})

	return &testServer{Server: srv, service: service}
}

func (s *testServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (s *testServer) createSession(t *testing.T) string {
	t.Helper()
	resp, err := http.Post(s.URL+"/api/sessions", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		SessionID string `json:"sessionId"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotEmpty(t, body.SessionID)
	return body.SessionID
}

func send(t *testing.T, conn *websocket.Conn, msgType MessageType, data any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{"type": msgType, "data": data}))
}

func readFrame(t *testing.T, conn *websocket.Conn) received {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var evt received
	require.NoError(t, conn.ReadJSON(&evt))
	return evt
}

func readTypes(t *testing.T, conn *websocket.Conn, n int) []received {
	t.Helper()
	frames := make([]received, n)
	for i := range frames {
		frames[i] = readFrame(t, conn)
	}
	return frames
}

func frameTypes(frames []received) []events.EventType {
	return lo.Map(frames, func(f received, _ int) events.EventType { return f.Type })
}

func decodeSession(t *testing.T, f received) models.Session {
	t.Helper()
	var s models.Session
	require.NoError(t, json.Unmarshal(f.Data, &s))
	return s
}

func TestService_EstimationRoundOverWebSocket(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t, DefaultConfig())
	sid := srv.createSession(t)
	ann := srv.dial(t)
	bo := srv.dial(t)

	// Ann joins and sees her own join
	send(t, ann, MessageTypeJoinSession, map[string]any{"sessionId": sid, "userId": "u1", "name": "Ann", "color": "red"})
	frames := readTypes(t, ann, 2)
	req.Equal([]events.EventType{events.EventTypeUserJoined, events.EventTypeSessionUpdate}, frameTypes(frames))
	req.JSONEq(`{"userId":"u1","name":"Ann","email":"","color":"red"}`, string(frames[0].Data))
	req.Equal(sid, frames[1].SessionID)

	// Bo joins; both see it
	send(t, bo, MessageTypeJoinSession, map[string]any{"sessionId": sid, "userId": "u2", "name": "Bo"})
	req.Equal([]events.EventType{events.EventTypeUserJoined, events.EventTypeSessionUpdate}, frameTypes(readTypes(t, bo, 2)))
	req.Equal([]events.EventType{events.EventTypeUserJoined, events.EventTypeSessionUpdate}, frameTypes(readTypes(t, ann, 2)))
	req.Len(srv.service.Connections().ConnectionsFor(sid), 2)

	// Ann picks 3; identity comes from her registration
	send(t, ann, MessageTypeMakeChoice, map[string]any{"choice": "3"})
	for _, conn := range []*websocket.Conn{ann, bo} {
		frames := readTypes(t, conn, 2)
		req.Equal([]events.EventType{events.EventTypeChoiceMade, events.EventTypeSessionUpdate}, frameTypes(frames))
		update := decodeSession(t, frames[1])
		req.Equal(map[string]string{"u1": "3"}, update.Choices)
		req.False(update.Revealed)
	}

	// Bo picks 5 and the board reveals itself
	send(t, bo, MessageTypeMakeChoice, map[string]any{"sessionId": sid, "userId": "u2", "choice": "5"})
	for _, conn := range []*websocket.Conn{ann, bo} {
		frames := readTypes(t, conn, 3)
		req.Equal([]events.EventType{
			events.EventTypeChoiceMade,
			events.EventTypeSessionUpdate,
			events.EventTypeRevealChoices,
		}, frameTypes(frames))
		revealed := decodeSession(t, frames[2])
		req.True(revealed.Revealed)
		req.Equal(map[string]string{"u1": "3", "u2": "5"}, revealed.Choices)
	}

	// Reset keeps both participants
	send(t, bo, MessageTypeResetSession, nil)
	for _, conn := range []*websocket.Conn{ann, bo} {
		frames := readTypes(t, conn, 2)
		req.Equal([]events.EventType{events.EventTypeSessionReset, events.EventTypeSessionUpdate}, frameTypes(frames))
		reset := decodeSession(t, frames[0])
		req.Empty(reset.Choices)
		req.Len(reset.Users, 2)
	}

	// The HTTP view matches
	resp, err := http.Get(srv.URL + "/api/sessions/" + sid)
	req.NoError(err)
	defer resp.Body.Close()
	req.Equal(http.StatusOK, resp.StatusCode)
	var stored models.Session
	req.NoError(json.NewDecoder(resp.Body).Decode(&stored))
	req.Equal([]string{"u1", "u2"}, stored.ParticipantIDs())
}

func TestService_ErrorsGoToSenderOnly(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t, DefaultConfig())
	sid := srv.createSession(t)
	ann := srv.dial(t)
	bo := srv.dial(t)
	send(t, ann, MessageTypeJoinSession, map[string]any{"sessionId": sid, "userId": "u1", "name": "Ann"})
	readTypes(t, ann, 2)
	send(t, bo, MessageTypeJoinSession, map[string]any{"sessionId": sid, "userId": "u2", "name": "Bo"})
	readTypes(t, bo, 2)
	readTypes(t, ann, 2)

	// Unknown event type
	req.NoError(bo.WriteMessage(websocket.TextMessage, []byte(`{"type":"shout","data":{}}`)))
	frame := readFrame(t, bo)
	req.Equal(events.EventTypeError, frame.Type)
	req.JSONEq(`{"message":"Invalid message: unknown type \"shout\""}`, string(frame.Data))

	// Choice for another session than the one joined
	send(t, bo, MessageTypeRevealChoices, map[string]any{"sessionId": "elsewhere"})
	frame = readFrame(t, bo)
	req.JSONEq(`{"message":"Invalid message: connection already joined another session"}`, string(frame.Data))

	// Joining a session that does not exist
	stranger := srv.dial(t)
	send(t, stranger, MessageTypeJoinSession, map[string]any{"sessionId": "missing", "userId": "u9", "name": "X"})
	frame = readFrame(t, stranger)
	req.Equal(events.EventTypeError, frame.Type)
	req.JSONEq(`{"message":"Session not found"}`, string(frame.Data))
	stats := srv.service.GetStats()
	req.Equal(3, stats.TotalConnections)
	req.Equal(map[string]int{sid: 2}, stats.SessionConnections)

	// Ann saw none of it; her next frame is Bo's reveal
	send(t, bo, MessageTypeRevealChoices, nil)
	req.Equal(events.EventTypeRevealChoices, readFrame(t, ann).Type)
	req.Equal(events.EventTypeRevealChoices, readFrame(t, bo).Type)
}

func TestService_UnknownParticipantIsSilent(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t, DefaultConfig())
	sid := srv.createSession(t)
	ann := srv.dial(t)
	send(t, ann, MessageTypeJoinSession, map[string]any{"sessionId": sid, "userId": "u1", "name": "Ann"})
	readTypes(t, ann, 2)

	// An unjoined connection chooses for a user that never joined
	ghost := srv.dial(t)
	send(t, ghost, MessageTypeMakeChoice, map[string]any{"sessionId": sid, "userId": "u3", "choice": "8"})
	send(t, ann, MessageTypeRevealChoices, nil)

	// Ann's next frame is her own reveal, with no choice recorded
	frame := readFrame(t, ann)
	req.Equal(events.EventTypeRevealChoices, frame.Type)
	req.Empty(decodeSession(t, frame).Choices)
}

func TestService_DeleteSession(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t, DefaultConfig())
	sid := srv.createSession(t)
	ann := srv.dial(t)
	send(t, ann, MessageTypeJoinSession, map[string]any{"sessionId": sid, "userId": "u1", "name": "Ann"})
	readTypes(t, ann, 2)

	httpReq, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/sessions/"+sid, nil)
	req.NoError(err)
	resp, err := http.DefaultClient.Do(httpReq)
	req.NoError(err)
	defer resp.Body.Close()
	req.Equal(http.StatusOK, resp.StatusCode)
	var body map[string]bool
	req.NoError(json.NewDecoder(resp.Body).Decode(&body))
	req.Equal(map[string]bool{"success": true}, body)

	frame := readFrame(t, ann)
	req.Equal(events.EventTypeSessionDeleted, frame.Type)
	req.JSONEq(`{"sessionId":"`+sid+`"}`, string(frame.Data))

	resp, err = http.Get(srv.URL + "/api/sessions/" + sid)
	req.NoError(err)
	defer resp.Body.Close()
	req.Equal(http.StatusNotFound, resp.StatusCode)
	var notFound map[string]string
	req.NoError(json.NewDecoder(resp.Body).Decode(&notFound))
	req.Equal(map[string]string{"error": "Session not found"}, notFound)
}

func TestService_HTTPExtras(t *testing.T) {
	req := require.New(t)
	dir := t.TempDir()
	req.NoError(os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>app</html>"), 0o644))
	req.NoError(os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log(1)"), 0o644))

	config := DefaultConfig()
	config.StaticDir = dir
	config.Deck = Deck{Options: []string{"1", "2", "3"}}
	srv := newTestServer(t, config)

	get := func(path string) (*http.Response, string) {
		resp, err := http.Get(srv.URL + path)
		req.NoError(err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		req.NoError(err)
		return resp, string(body)
	}

	resp, body := get("/health")
	req.Equal(http.StatusOK, resp.StatusCode)
	var health healthResponse
	req.NoError(json.Unmarshal([]byte(body), &health))
	req.Equal("ok", health.Status)
	req.Positive(health.Timestamp)

	_, body = get("/api/deck")
	req.JSONEq(`{"options":["1","2","3"]}`, body)

	_, body = get("/app.js")
	req.Equal("console.log(1)", body)

	resp, body = get("/session/abc123")
	req.Equal(http.StatusOK, resp.StatusCode)
	req.Equal("<html>app</html>", body)

	_, body = get("/ws/stats")
	req.JSONEq(`{"total_connections":0,"active_sessions":0,"session_connections":{}}`, body)
}

func TestWebSocketHandler_WriteFailureStillBroadcasts(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	eng := mocks.NewMockSessionEngine(ctrl)
	cm := startManager(t, DefaultConnectionConfig())
	h := NewWebSocketHandler(cm, eng, time.Second)

	sender := openTestConnection(cm)
	peer := openTestConnection(cm)
	req.NoError(cm.Register(sender.ID, "s1", "u1"))
	req.NoError(cm.Register(peer.ID, "s1", "u2"))

	snapshot := models.NewSession("s1", 1)
	eng.EXPECT().
		ApplyAndPublish(gomock.Any(), engine.MakeChoice{SessionID: "s1", UserID: "u1", Choice: lo.ToPtr("5")}, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ engine.Command, publish engine.Publisher) (engine.Result, error) {
			res := engine.Result{Events: []events.Event{
				events.ChoiceMade("u1", "5"),
				events.SessionUpdate(snapshot),
			}}
			publish("s1", res.Events)
			return res, errors.Join(engine.ErrWriteFailed, errors.New("nats: timeout"))
		})

	h.process(context.Background(), sender.ID, []byte(`{"type":"makeChoice","data":{"choice":"5"}}`))

	// Everyone gets the computed events; only the sender gets the error, after them
	for _, conn := range []*Connection{sender, peer} {
		req.Equal(events.EventTypeChoiceMade, nextFrame(t, conn).Type)
		req.Equal(events.EventTypeSessionUpdate, nextFrame(t, conn).Type)
	}
	frame := nextFrame(t, sender)
	req.Equal(events.EventTypeError, frame.Type)
	req.JSONEq(`{"message":"Failed to save session"}`, string(frame.Data))
	requireNoFrame(t, peer)
}

func TestWebSocketHandler_JoinRegistersOnlyOnSuccess(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	eng := mocks.NewMockSessionEngine(ctrl)
	cm := startManager(t, DefaultConnectionConfig())
	h := NewWebSocketHandler(cm, eng, time.Second)
	conn := openTestConnection(cm)

	eng.EXPECT().ApplyAndPublish(gomock.Any(), gomock.Any(), gomock.Any()).Return(engine.Result{}, engine.ErrSessionNotFound)

	h.process(context.Background(), conn.ID, []byte(`{"type":"joinSession","data":{"sessionId":"s1","userId":"u1","name":"Ann"}}`))

	req.JSONEq(`{"message":"Session not found"}`, string(nextFrame(t, conn).Data))
	_, _, bound := cm.Binding(conn.ID)
	req.False(bound)
	req.Empty(cm.ConnectionsFor("s1"))
}

func TestWebSocketHandler_QueuesEventsWhileSessionLocked(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	eng := mocks.NewMockSessionEngine(ctrl)
	cm := NewConnectionManager(DefaultConnectionConfig())
	h := NewWebSocketHandler(cm, eng, time.Second)
	conn := openTestConnection(cm)

	var (
		queuedInside int
		boundInside  bool
	)
	eng.EXPECT().
		ApplyAndPublish(gomock.Any(), engine.Join{SessionID: "s1", UserID: "u1", Name: "Ann"}, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ engine.Command, publish engine.Publisher) (engine.Result, error) {
			evts := []events.Event{events.UserJoined(events.UserPayload{UserID: "u1", Name: "Ann"})}
			publish("s1", evts)
			queuedInside = len(cm.broadcastCh)
			_, _, boundInside = cm.Binding(conn.ID)
			return engine.Result{Events: evts}, nil
		})

	h.process(context.Background(), conn.ID, []byte(`{"type":"joinSession","data":{"sessionId":"s1","userId":"u1","name":"Ann"}}`))

	// The batch was queued and the connection bound before the engine returned
	req.Equal(1, queuedInside)
	req.True(boundInside)
	req.Len(cm.broadcastCh, 1)
	req.Equal([]string{conn.ID}, cm.ConnectionsFor("s1"))
}
