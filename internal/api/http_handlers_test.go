package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	authapp "farmrealm-server/internal/app/auth"
	"farmrealm-server/internal/app/peer"
	"farmrealm-server/internal/app/rooms"
	worldapp "farmrealm-server/internal/app/world"
	"farmrealm-server/internal/platform/kv"
)

const (
	testShared   = "shared-secret"
	testInternal = "internal-secret"
)

// fakeHost runs rooms in-process with inline work and no tick loop.
type fakeHost struct {
	mu     sync.Mutex
	stores *kv.MemoryFactory
	rooms  map[string]*worldapp.Room
}

func newFakeHost() *fakeHost {
	return &fakeHost{stores: kv.NewMemoryFactory(), rooms: make(map[string]*worldapp.Room)}
}

func (f *fakeHost) room(id string) *worldapp.Room {
	r, ok := f.rooms[id]
	if !ok {
		r = worldapp.NewRoom(id, worldapp.Deps{
			Logger:           zerolog.Nop(),
			Store:            f.stores.Room(id),
			LobbyID:          "global",
			RealmGrace:       30 * time.Second,
			LobbyWaitTimeout: 2 * time.Minute,
			RealmDuration:    5 * time.Minute,
		})
		f.rooms[id] = r
	}
	return r
}

func (f *fakeHost) Connect(roomID string, conn worldapp.Conn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.room(roomID).Connect(conn)
	return nil
}

func (f *fakeHost) Disconnect(roomID, sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.room(roomID).Disconnect(sessionID)
}

func (f *fakeHost) Deliver(roomID, sessionID string, raw []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.room(roomID).HandleMessage(sessionID, raw)
}

func (f *fakeHost) Call(ctx context.Context, roomID string, op rooms.Op) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return op(ctx, f.room(roomID))
}

func newTestServer(t *testing.T) (*httptest.Server, *authapp.Service) {
	t.Helper()
	auth := authapp.NewService(testShared, testInternal, time.Hour)
	h := NewHandler(zerolog.Nop(), auth, newFakeHost(), nil, "*", 1<<20)
	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)
	return srv, auth
}

func internalRequest(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set(peer.SecretHeader, testInternal)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	return resp
}

func readBody(t *testing.T, resp *http.Response) []byte {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return b
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body := readBody(t, resp)
	if resp.StatusCode != http.StatusOK || gjson.GetBytes(body, "status").String() != "ok" {
		t.Fatalf("unexpected health response %d %s", resp.StatusCode, body)
	}
}

func TestInternalRoutesRequireSecret(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/v1/rooms/realm-a/internal/stats")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	readBody(t, resp)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 without secret, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/rooms/realm-a/internal/stats", nil)
	req.Header.Set(peer.SecretHeader, "wrong")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	readBody(t, resp)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 with wrong secret, got %d", resp.StatusCode)
	}
}

func TestIssueToken(t *testing.T) {
	srv, auth := newTestServer(t)
	resp, err := http.Post(srv.URL+"/v1/tokens", "application/json", strings.NewReader(`{"playerId":"p1","firstName":"Ann"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	readBody(t, resp)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("token mint must be internal, got %d", resp.StatusCode)
	}

	resp = internalRequest(t, http.MethodPost, srv.URL+"/v1/tokens", `{"playerId":"p1","firstName":"Ann"}`)
	body := readBody(t, resp)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d %s", resp.StatusCode, body)
	}
	ident, err := auth.ParseToken(gjson.GetBytes(body, "token").String())
	if err != nil {
		t.Fatalf("parse minted token: %v", err)
	}
	if ident.PlayerID != "p1" || ident.FirstName != "Ann" {
		t.Fatalf("unexpected identity %+v", ident)
	}
}

func TestInitRealmThenStats(t *testing.T) {
	srv, _ := newTestServer(t)
	expires := time.Now().Add(time.Minute).UnixMilli()
	body := `{"expiresAt":` + strconv.FormatInt(expires, 10) + `,"roles":{"p1":"fisher","p2":"keeper"}}`
	resp := internalRequest(t, http.MethodPost, srv.URL+"/v1/rooms/realm-a/internal/init-realm", body)
	if b := readBody(t, resp); resp.StatusCode != http.StatusOK {
		t.Fatalf("init-realm: %d %s", resp.StatusCode, b)
	}

	resp = internalRequest(t, http.MethodGet, srv.URL+"/v1/rooms/realm-a/internal/stats", "")
	stats := readBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats: %d %s", resp.StatusCode, stats)
	}
	if !gjson.GetBytes(stats, "configured").Bool() || gjson.GetBytes(stats, "expiresAt").Int() != expires {
		t.Fatalf("unexpected stats %s", stats)
	}
	if gjson.GetBytes(stats, "activePlayers").Int() != 0 {
		t.Fatalf("no one connected yet: %s", stats)
	}

	resp = internalRequest(t, http.MethodPost, srv.URL+"/v1/rooms/realm-a/internal/end-realm", "")
	readBody(t, resp)
	resp = internalRequest(t, http.MethodGet, srv.URL+"/v1/rooms/realm-a/internal/stats", "")
	stats = readBody(t, resp)
	if gjson.GetBytes(stats, "configured").Bool() {
		t.Fatalf("ended realm still reports configured: %s", stats)
	}
}

func TestRealmOpsOnWrongRoomConflict(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := internalRequest(t, http.MethodPost, srv.URL+"/v1/rooms/farm/internal/init-realm", `{"expiresAt":1,"roles":{"p1":"fisher"}}`)
	readBody(t, resp)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("init-realm on non-realm: expected 409, got %d", resp.StatusCode)
	}

	resp = internalRequest(t, http.MethodGet, srv.URL+"/v1/rooms/farm/internal/player-realm?playerId=p1", "")
	readBody(t, resp)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("directory op outside lobby: expected 409, got %d", resp.StatusCode)
	}
}

func TestInitRealmValidatesBody(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := internalRequest(t, http.MethodPost, srv.URL+"/v1/rooms/realm-a/internal/init-realm", `{"expiresAt":0}`)
	readBody(t, resp)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	resp = internalRequest(t, http.MethodPost, srv.URL+"/v1/rooms/realm-a/internal/init-realm", `{"bogus":true}`)
	readBody(t, resp)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown fields must be rejected, got %d", resp.StatusCode)
	}
}

func TestDirectoryTrackLookupClear(t *testing.T) {
	srv, _ := newTestServer(t)
	base := srv.URL + "/v1/rooms/global/internal"
	expires := strconv.FormatInt(time.Now().Add(time.Minute).UnixMilli(), 10)

	resp := internalRequest(t, http.MethodPost, base+"/track-player-realm?playerId=p1&realmId=realm-a&expiresAt="+expires, "")
	if b := readBody(t, resp); resp.StatusCode != http.StatusOK {
		t.Fatalf("track: %d %s", resp.StatusCode, b)
	}

	resp = internalRequest(t, http.MethodGet, base+"/player-realm?playerId=p1", "")
	body := readBody(t, resp)
	if gjson.GetBytes(body, "realmId").String() != "realm-a" {
		t.Fatalf("lookup after track: %s", body)
	}

	resp = internalRequest(t, http.MethodPost, base+"/clear-realm-players", `{"playerIds":["p1"]}`)
	readBody(t, resp)
	resp = internalRequest(t, http.MethodGet, base+"/player-realm?playerId=p1", "")
	body = readBody(t, resp)
	if v := gjson.GetBytes(body, "realmId"); v.Type != gjson.Null {
		t.Fatalf("lookup after clear should be null: %s", body)
	}

	resp = internalRequest(t, http.MethodGet, base+"/player-realm", "")
	readBody(t, resp)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing playerId: expected 400, got %d", resp.StatusCode)
	}
}

func TestInvalidRoomID(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := internalRequest(t, http.MethodGet, srv.URL+"/v1/rooms/bad.room/internal/stats", "")
	readBody(t, resp)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid room id, got %d", resp.StatusCode)
	}
}

func wsURL(srv *httptest.Server, roomID, token string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/rooms/" + roomID + "/ws?token=" + token
}

// readUntil reads frames until one of type typ arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) []byte {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %q: %v", typ, err)
		}
		if gjson.GetBytes(msg, "type").String() == typ {
			return msg
		}
	}
}

func TestWebsocketRejectsMissingToken(t *testing.T) {
	srv, _ := newTestServer(t)
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "farm", ""), nil)
	if err == nil {
		t.Fatal("dial without token should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}
}

func TestWebsocketSessionRoundTrip(t *testing.T) {
	srv, auth := newTestServer(t)
	tok, err := auth.IssueToken("p1", "Ann")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "farm", tok), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	welcome := readUntil(t, conn, "welcome")
	if gjson.GetBytes(welcome, "id").String() != "p1" || gjson.GetBytes(welcome, "roomId").String() != "farm" {
		t.Fatalf("unexpected welcome %s", welcome)
	}

	// the fake host has no economy, so a store-backed request answers with a typed error
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"get_scores"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	errMsg := readUntil(t, conn, "error")
	if gjson.GetBytes(errMsg, "code").String() != "store_unavailable" {
		t.Fatalf("unexpected error frame %s", errMsg)
	}
}

func TestWebsocketUnconfiguredRealmCloses(t *testing.T) {
	srv, auth := newTestServer(t)
	tok, _ := auth.IssueToken("p1", "Ann")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "realm-missing", tok), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	errMsg := readUntil(t, conn, "error")
	if gjson.GetBytes(errMsg, "code").String() != "realm_not_configured" {
		t.Fatalf("unexpected error frame %s", errMsg)
	}
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err = conn.ReadMessage()
	var ce *websocket.CloseError
	if !errors.As(err, &ce) || ce.Code != worldapp.CloseRealmInvalid {
		t.Fatalf("expected close %d, got %v", worldapp.CloseRealmInvalid, err)
	}
}
