package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-realtime-chat/internal/config"
	"github.com/tbourn/go-realtime-chat/internal/domain"
	"github.com/tbourn/go-realtime-chat/internal/http/middleware"
	"github.com/tbourn/go-realtime-chat/internal/realtime"
	"github.com/tbourn/go-realtime-chat/internal/repo"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:router_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func testConfig() config.Config {
	return config.Config{
		APIBasePath: "/api/v1",
		RateRPS:     100,
		RateBurst:   50,
		OTEL:        config.OTELConfig{ServiceName: "test-svc"},
		Quota:       config.QuotaConfig{FreeDailyMessages: 3, Location: time.UTC},
		Realtime: config.RealtimeConfig{
			WriteWait:       time.Second,
			PongWait:        5 * time.Second,
			SendBuffer:      8,
			MaxMessageBytes: 4096,
			AuthTimeout:     time.Second,
		},
		IdempotencyTTL: time.Hour,
	}
}

// newTestRouter wires the full stack over a fresh database.
func newTestRouter(t *testing.T, cfg config.Config) (*gin.Engine, *realtime.Hub, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	hub := realtime.NewHub(cfg.Realtime)
	t.Cleanup(hub.Shutdown)

	r := gin.New()
	RegisterRoutes(r, db, BuildServices(db, hub, nil, cfg), hub, cfg)
	return r, hub, db
}

func call(r http.Handler, method, path, user string, body any, hdr ...string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(middleware.HeaderUserID, user)
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeInto(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func register(t *testing.T, r http.Handler, name string) domain.User {
	t.Helper()
	w := call(r, http.MethodPost, "/api/v1/users", "", map[string]string{"display_name": name})
	if w.Code != http.StatusCreated {
		t.Fatalf("register %s: %d %s", name, w.Code, w.Body.String())
	}
	var u domain.User
	decodeInto(t, w, &u)
	return u
}

func openConversation(t *testing.T, r http.Handler, from, peer string) domain.Conversation {
	t.Helper()
	w := call(r, http.MethodPost, "/api/v1/conversations", from, map[string]string{"peer_id": peer})
	if w.Code != http.StatusCreated && w.Code != http.StatusOK {
		t.Fatalf("open conversation: %d %s", w.Code, w.Body.String())
	}
	var c domain.Conversation
	decodeInto(t, w, &c)
	return c
}

func TestRegisterRoutes_HealthMetricsFallbacks(t *testing.T) {
	r, _, _ := newTestRouter(t, testConfig())

	w := call(r, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("allow-all CORS expected '*', got %q", got)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatalf("missing X-Request-ID")
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("security headers not applied")
	}

	w = call(r, http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "http_requests_total") {
		t.Fatalf("GET /metrics: code=%d", w.Code)
	}

	if w = call(r, http.MethodGet, "/nope", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope = %d; want 404", w.Code)
	}
	if w = call(r, http.MethodPost, "/health", "", nil); w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /health = %d; want 405", w.Code)
	}
	if w = call(r, http.MethodGet, "/swagger/index.html", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("swagger must be off by default, got %d", w.Code)
	}
}

func TestRegisterRoutes_SwaggerWhenEnabled(t *testing.T) {
	cfg := testConfig()
	cfg.SwaggerEnabled = true
	r, _, _ := newTestRouter(t, cfg)

	w := call(r, http.MethodGet, "/swagger/doc.json", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "swagger") {
		t.Fatalf("GET /swagger/doc.json = %d %s", w.Code, w.Body.String())
	}
}

func TestRegisterRoutes_CORSAllowlistEcho(t *testing.T) {
	cfg := testConfig()
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"http://example.com"}}
	r, _, _ := newTestRouter(t, cfg)

	w := call(r, http.MethodGet, "/health", "", nil, "Origin", "http://example.com")
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("expected ACAO echo, got %q", got)
	}
}

func TestRegisterRoutes_IdentityRequired(t *testing.T) {
	r, _, _ := newTestRouter(t, testConfig())

	for _, p := range []string{"/api/v1/users/me", "/api/v1/conversations", "/api/v1/users/me/subscription"} {
		if w := call(r, http.MethodGet, p, "", nil); w.Code != http.StatusUnauthorized {
			t.Fatalf("GET %s without identity = %d; want 401", p, w.Code)
		}
	}

	u := register(t, r, "alice")
	w := call(r, http.MethodGet, "/api/v1/users/me", u.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /users/me = %d %s", w.Code, w.Body.String())
	}
}

func TestRegisterRoutes_MessagingFlow(t *testing.T) {
	r, _, _ := newTestRouter(t, testConfig())
	alice := register(t, r, "alice")
	bob := register(t, r, "bob")

	conv := openConversation(t, r, alice.ID, bob.ID)
	if again := openConversation(t, r, bob.ID, alice.ID); again.ID != conv.ID {
		t.Fatalf("reverse open created a second conversation: %s vs %s", again.ID, conv.ID)
	}

	path := "/api/v1/conversations/" + conv.ID + "/messages"
	body := map[string]any{"message_type": "text", "content": "hello bob"}

	first := call(r, http.MethodPost, path, alice.ID, body, middleware.HeaderIdempotencyKey, "send-1")
	if first.Code != http.StatusCreated {
		t.Fatalf("send: %d %s", first.Code, first.Body.String())
	}
	var sent domain.Message
	decodeInto(t, first, &sent)
	if sent.Seq != 1 || sent.SenderID != alice.ID {
		t.Fatalf("unexpected message %+v", sent)
	}

	replay := call(r, http.MethodPost, path, alice.ID, body, middleware.HeaderIdempotencyKey, "send-1")
	if replay.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatalf("retry was not replayed: %d %s", replay.Code, replay.Body.String())
	}
	var again domain.Message
	decodeInto(t, replay, &again)
	if again.ID != sent.ID {
		t.Fatalf("replay returned %s; want %s", again.ID, sent.ID)
	}

	list := call(r, http.MethodGet, path, bob.ID, nil)
	if list.Code != http.StatusOK {
		t.Fatalf("history: %d %s", list.Code, list.Body.String())
	}
	var page struct {
		Items []domain.Message `json:"messages"`
	}
	decodeInto(t, list, &page)
	if len(page.Items) != 1 {
		t.Fatalf("history has %d messages; want 1", len(page.Items))
	}
	if etag := list.Header().Get("ETag"); etag == "" {
		t.Fatalf("missing ETag")
	} else if w := call(r, http.MethodGet, path, bob.ID, nil, "If-None-Match", etag); w.Code != http.StatusNotModified {
		t.Fatalf("conditional history = %d; want 304", w.Code)
	}

	if w := call(r, http.MethodPost, "/api/v1/messages/"+sent.ID+"/read", bob.ID, nil); w.Code != http.StatusOK {
		t.Fatalf("mark read: %d %s", w.Code, w.Body.String())
	}

	mallory := register(t, r, "mallory")
	if w := call(r, http.MethodGet, path, mallory.ID, nil); w.Code != http.StatusForbidden {
		t.Fatalf("outsider history = %d; want 403", w.Code)
	}
}

func TestRegisterRoutes_FreeQuota(t *testing.T) {
	r, _, _ := newTestRouter(t, testConfig())
	alice := register(t, r, "alice")
	bob := register(t, r, "bob")
	conv := openConversation(t, r, alice.ID, bob.ID)
	path := "/api/v1/conversations/" + conv.ID + "/messages"

	for i := 0; i < 3; i++ {
		w := call(r, http.MethodPost, path, alice.ID, map[string]any{"message_type": "text", "content": fmt.Sprintf("m%d", i)})
		if w.Code != http.StatusCreated {
			t.Fatalf("send %d: %d %s", i, w.Code, w.Body.String())
		}
	}
	w := call(r, http.MethodPost, path, alice.ID, map[string]any{"message_type": "text", "content": "one too many"})
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("fourth send = %d; want 429", w.Code)
	}
	var body struct {
		Code string `json:"code"`
	}
	decodeInto(t, w, &body)
	if body.Code != "quota_exceeded" {
		t.Fatalf("code = %q; want quota_exceeded", body.Code)
	}

	if w := call(r, http.MethodPost, path, bob.ID, map[string]any{"message_type": "text", "content": "reply"}); w.Code != http.StatusCreated {
		t.Fatalf("other participant unaffected = %d", w.Code)
	}
}

func TestRegisterRoutes_SubscriptionWithoutVerifier(t *testing.T) {
	r, _, _ := newTestRouter(t, testConfig())
	u := register(t, r, "alice")

	w := call(r, http.MethodPost, "/api/v1/users/me/subscription", u.ID,
		map[string]string{"platform": "ios", "purchase_token": "tok"})
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("apply without verifier = %d; want 503", w.Code)
	}
}

func TestRegisterRoutes_RealtimeDelivery(t *testing.T) {
	r, hub, _ := newTestRouter(t, testConfig())
	srv := httptest.NewServer(r)
	defer srv.Close()

	alice := register(t, r, "alice")
	bob := register(t, r, "bob")
	conv := openConversation(t, r, alice.ID, bob.ID)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL+"?userId="+bob.ID, nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing conversationId should be rejected with 400, resp=%v err=%v", resp, err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?userId="+bob.ID+"&conversationId="+conv.ID, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Registry().RoomSize(conv.ID) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("client never joined the room")
		}
		time.Sleep(5 * time.Millisecond)
	}

	w := call(r, http.MethodPost, "/api/v1/conversations/"+conv.ID+"/messages", alice.ID,
		map[string]any{"message_type": "text", "content": "live"})
	if w.Code != http.StatusCreated {
		t.Fatalf("send: %d %s", w.Code, w.Body.String())
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var env domain.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("read envelope: %v", err)
		}
		if env.Type != domain.EventNewMessage {
			continue
		}
		var m domain.Message
		if err := json.Unmarshal(env.Data, &m); err != nil {
			t.Fatalf("decode message: %v", err)
		}
		if m.Content == nil || *m.Content != "live" || m.SenderID != alice.ID {
			t.Fatalf("unexpected delivery %+v", m)
		}
		return
	}
}

func TestConversationRepoShim(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	shim := conversationRepoShim{}

	a, err := repo.CreateUser(ctx, db, "a")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	b, _ := repo.CreateUser(ctx, db, "b")

	if got, err := shim.GetUser(ctx, db, a.ID); err != nil || got.ID != a.ID {
		t.Fatalf("GetUser: %v %+v", err, got)
	}
	c, err := shim.CreateConversation(ctx, db, a.ID, b.ID)
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if got, err := shim.FindConversationByPair(ctx, db, b.ID, a.ID); err != nil || got.ID != c.ID {
		t.Fatalf("FindConversationByPair: %v %+v", err, got)
	}
	if got, err := shim.GetConversation(ctx, db, c.ID); err != nil || got.ID != c.ID {
		t.Fatalf("GetConversation: %v %+v", err, got)
	}
	if n, err := shim.CountConversations(ctx, db, a.ID); err != nil || n != 1 {
		t.Fatalf("CountConversations = %d, %v", n, err)
	}
	if page, err := shim.ListConversationsPage(ctx, db, b.ID, 0, 10); err != nil || len(page) != 1 {
		t.Fatalf("ListConversationsPage = %d, %v", len(page), err)
	}
}

func TestLimitBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		if _, err := io.ReadAll(c.Request.Body); err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString("0123456789AB")))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", w.Code)
	}
}

func TestGroupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	groupWithPrefix(r, "/").GET("/one", func(c *gin.Context) { c.String(http.StatusOK, "one") })
	groupWithPrefix(r, "").GET("/two", func(c *gin.Context) { c.String(http.StatusOK, "two") })
	groupWithPrefix(r, "/api").GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for path, want := range map[string]string{"/one": "one", "/two": "two", "/api/ping": "pong"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK || w.Body.String() != want {
			t.Fatalf("GET %s got %d %q", path, w.Code, w.Body.String())
		}
	}
}
