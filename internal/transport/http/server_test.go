package http

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	stdhttp "net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/deskhive/chat-server/internal/auth"
	"github.com/deskhive/chat-server/internal/config"
	"github.com/deskhive/chat-server/internal/core"
	"github.com/deskhive/chat-server/internal/proto"
	"github.com/deskhive/chat-server/internal/store/sqlite"
)

func startTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	st, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := config.Default()
	cfg.UploadDir = filepath.Join(t.TempDir(), "uploads")
	cfg.JWTSecret = "test-secret"

	logger := zerolog.Nop()

	hub := core.NewHub(core.DefaultHubConfig(), st, &logger)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	authService := auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.JWTTTL,
	})

	server := NewServer(hub, authService, cfg, &logger)
	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return ts
}

func dialWS(t *testing.T, ctx context.Context, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := strings.Replace(ts.URL, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "test done") })
	return conn
}

func readFrame(t *testing.T, ctx context.Context, conn *websocket.Conn, frameType string) proto.Envelope {
	t.Helper()
	for {
		var env proto.Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			t.Fatalf("read while waiting for %s: %v", frameType, err)
		}
		if env.Type == frameType {
			return env
		}
	}
}

func sendStatus(t *testing.T, ctx context.Context, conn *websocket.Conn, userID, name, role string) {
	t.Helper()
	env, err := proto.NewEnvelope(proto.TypeUserStatus, proto.UserStatus{
		UserID:   userID,
		UserName: name,
		UserRole: role,
		Status:   proto.StatusOnline,
		LastSeen: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := wsjson.Write(ctx, conn, env); err != nil {
		t.Fatalf("write user_status: %v", err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts := startTestServer(t)

	resp, err := ts.Client().Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != stdhttp.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestWebSocketRelayRoundTrip(t *testing.T) {
	ts := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	connA := dialWS(t, ctx, ts)
	connB := dialWS(t, ctx, ts)

	sendStatus(t, ctx, connA, "u1", "alice", "admin")
	readFrame(t, ctx, connA, proto.TypeUserList)

	sendStatus(t, ctx, connB, "u2", "bob", "member")
	listEnv := readFrame(t, ctx, connB, proto.TypeUserList)
	var list []proto.UserStatus
	if err := listEnv.Decode(&list); err != nil {
		t.Fatalf("decode user_list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected two online users, got %+v", list)
	}

	msgEnv, err := proto.NewEnvelope(proto.TypeChatMessage, proto.ChatMessage{
		ID:        "m1",
		UserID:    "u1",
		UserName:  "alice",
		UserRole:  "admin",
		Message:   "hi over the wire",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		ReadBy:    []string{"u1"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := wsjson.Write(ctx, connA, msgEnv); err != nil {
		t.Fatalf("write chat_message: %v", err)
	}

	got := readFrame(t, ctx, connB, proto.TypeChatMessage)
	msg, err := got.DecodeChatMessage()
	if err != nil {
		t.Fatalf("decode relayed message: %v", err)
	}
	if msg.ID != "m1" || msg.Message != "hi over the wire" {
		t.Fatalf("unexpected relayed message: %+v", msg)
	}
}

func TestWebSocketSurvivesMalformedFrame(t *testing.T) {
	ts := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	connA := dialWS(t, ctx, ts)
	connB := dialWS(t, ctx, ts)

	sendStatus(t, ctx, connA, "u1", "alice", "member")
	readFrame(t, ctx, connA, proto.TypeUserList)
	sendStatus(t, ctx, connB, "u2", "bob", "member")
	readFrame(t, ctx, connB, proto.TypeUserList)

	if err := connA.Write(ctx, websocket.MessageText, []byte("this is not json")); err != nil {
		t.Fatalf("write garbage: %v", err)
	}

	// The connection is still usable after the bad frame.
	msgEnv, err := proto.NewEnvelope(proto.TypeChatMessage, proto.ChatMessage{
		ID: "m1", UserID: "u1", UserName: "alice", Message: "still here",
		Timestamp: time.Now().UTC().Format(time.RFC3339), ReadBy: []string{"u1"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := wsjson.Write(ctx, connA, msgEnv); err != nil {
		t.Fatalf("write after garbage: %v", err)
	}
	got := readFrame(t, ctx, connB, proto.TypeChatMessage)
	if msg, _ := got.DecodeChatMessage(); msg.ID != "m1" {
		t.Fatalf("expected m1, got %+v", msg)
	}
}

func registerUser(t *testing.T, ts *httptest.Server, username, role string) AuthResponse {
	t.Helper()
	body, _ := json.Marshal(RegisterRequest{
		Username: username,
		Password: "secret123",
		Role:     role,
	})
	resp, err := ts.Client().Post(ts.URL+"/api/register", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("register request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != stdhttp.StatusOK {
		t.Fatalf("register status: %d", resp.StatusCode)
	}
	var out AuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode register response: %v", err)
	}
	return out
}

func TestRegisterLoginFlow(t *testing.T) {
	ts := startTestServer(t)

	reg := registerUser(t, ts, "alice", "admin")
	if reg.Token == "" || reg.UserID == "" || reg.Role != "admin" {
		t.Fatalf("unexpected register response: %+v", reg)
	}

	body, _ := json.Marshal(LoginRequest{Username: "alice", Password: "secret123"})
	resp, err := ts.Client().Post(ts.URL+"/api/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != stdhttp.StatusOK {
		t.Fatalf("login status: %d", resp.StatusCode)
	}

	badBody, _ := json.Marshal(LoginRequest{Username: "alice", Password: "wrong"})
	badResp, err := ts.Client().Post(ts.URL+"/api/login", "application/json", bytes.NewReader(badBody))
	if err != nil {
		t.Fatalf("bad login request: %v", err)
	}
	defer badResp.Body.Close()
	if badResp.StatusCode != stdhttp.StatusUnauthorized {
		t.Fatalf("bad login status: %d", badResp.StatusCode)
	}
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	ts := startTestServer(t)
	reg := registerUser(t, ts, "alice", "member")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="file"; filename="note.txt"`)
	header.Set("Content-Type", "text/plain")
	part, err := mw.CreatePart(header)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write([]byte("meeting at noon")); err != nil {
		t.Fatal(err)
	}
	mw.Close()

	req, err := stdhttp.NewRequest(stdhttp.MethodPost, ts.URL+"/api/chat/upload", &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+reg.Token)

	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("upload request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != stdhttp.StatusOK {
		t.Fatalf("upload status: %d", resp.StatusCode)
	}
	var up UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&up); err != nil {
		t.Fatalf("decode upload response: %v", err)
	}
	if !up.Success || up.FileName != "note.txt" || up.FileType != "text/plain" {
		t.Fatalf("unexpected upload response: %+v", up)
	}

	dl, err := ts.Client().Get(ts.URL + up.FileURL)
	if err != nil {
		t.Fatalf("download request: %v", err)
	}
	defer dl.Body.Close()
	if dl.StatusCode != stdhttp.StatusOK {
		t.Fatalf("download status: %d", dl.StatusCode)
	}
	var content bytes.Buffer
	if _, err := content.ReadFrom(dl.Body); err != nil {
		t.Fatal(err)
	}
	if content.String() != "meeting at noon" {
		t.Fatalf("unexpected file content: %q", content.String())
	}
}

func TestUploadRequiresAuth(t *testing.T) {
	ts := startTestServer(t)

	resp, err := ts.Client().Post(ts.URL+"/api/chat/upload", "multipart/form-data", nil)
	if err != nil {
		t.Fatalf("upload request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != stdhttp.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestUploadRejectsDisallowedMime(t *testing.T) {
	ts := startTestServer(t)
	reg := registerUser(t, ts, "alice", "member")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="file"; filename="tool.exe"`)
	header.Set("Content-Type", "application/x-msdownload")
	part, err := mw.CreatePart(header)
	if err != nil {
		t.Fatal(err)
	}
	part.Write([]byte{0x4d, 0x5a})
	mw.Close()

	req, _ := stdhttp.NewRequest(stdhttp.MethodPost, ts.URL+"/api/chat/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+reg.Token)

	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("upload request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != stdhttp.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}
