package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"gatehouse/api/internal/config"
	"gatehouse/api/internal/directory"
)

func newTestServer(cfg config.Config) (http.Handler, *Service, *fakeChatBackend, *directory.MemoryStore) {
	service, _, backend, store := newTestService(cfg)
	server := NewHTTPServer(service, "*")
	return server.Handler(), service, backend, store
}

func doRequest(handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	request := httptest.NewRequest(method, path, reader)
	if body != "" {
		request.Header.Set("Content-Type", "application/json")
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeResponse(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("response is not JSON: %v (%s)", err, recorder.Body.String())
	}
	return payload
}

func assertErrorResponse(t *testing.T, recorder *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if recorder.Code != status {
		t.Fatalf("expected status %d, got %d (%s)", status, recorder.Code, recorder.Body.String())
	}
	payload := decodeResponse(t, recorder)
	if payload["code"] != code {
		t.Errorf("expected error code %s, got %v", code, payload["code"])
	}
}

func TestHealthAndReady(t *testing.T) {
	handler, _, _, _ := newTestServer(config.Config{})

	recorder := doRequest(handler, http.MethodGet, "/health", "")
	if recorder.Code != http.StatusOK {
		t.Errorf("health returned %d", recorder.Code)
	}

	recorder = doRequest(handler, http.MethodGet, "/ready", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("ready returned %d", recorder.Code)
	}
	payload := decodeResponse(t, recorder)
	if payload["status"] != "ready" {
		t.Errorf("unexpected readiness payload %v", payload)
	}
}

func TestTokenEndpoint(t *testing.T) {
	handler, _, _, _ := newTestServer(config.Config{})

	recorder := doRequest(handler, http.MethodPost, "/token", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("token returned %d (%s)", recorder.Code, recorder.Body.String())
	}
	payload := decodeResponse(t, recorder)
	user, ok := payload["user"].(map[string]any)
	if !ok || user["communicationUserId"] != "8:test:1" {
		t.Errorf("unexpected user envelope %v", payload["user"])
	}
	if payload["token"] == "" || payload["token"] == nil {
		t.Error("expected a token in the response")
	}
	if payload["expiresOn"] == nil {
		t.Error("expected an expiry in the response")
	}
}

func TestRefreshTokenEndpoint(t *testing.T) {
	handler, _, _, _ := newTestServer(config.Config{})

	recorder := doRequest(handler, http.MethodGet, "/refreshToken/8:test:77", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("refreshToken returned %d", recorder.Code)
	}
	payload := decodeResponse(t, recorder)
	if payload["token"] != "refresh-8:test:77" {
		t.Errorf("unexpected token %v", payload["token"])
	}
	if payload["expiresOn"] == nil {
		t.Error("expected an expiry in the response")
	}
}

func TestGetEnvironmentUrlIsPlainText(t *testing.T) {
	handler, _, _, _ := newTestServer(config.Config{})

	recorder := doRequest(handler, http.MethodGet, "/getEnvironmentUrl", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("getEnvironmentUrl returned %d", recorder.Code)
	}
	if got := recorder.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/plain") {
		t.Errorf("expected text/plain, got %q", got)
	}
	if recorder.Body.String() != "https://gateway.test" {
		t.Errorf("unexpected body %q", recorder.Body.String())
	}
}

func TestCreateThreadAndValidate(t *testing.T) {
	handler, _, _, _ := newTestServer(config.Config{})

	recorder := doRequest(handler, http.MethodPost, "/createThread", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("createThread returned %d (%s)", recorder.Code, recorder.Body.String())
	}
	if got := recorder.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/plain") {
		t.Errorf("expected text/plain, got %q", got)
	}
	threadID := recorder.Body.String()
	if threadID == "" {
		t.Fatal("expected a thread id body")
	}

	recorder = doRequest(handler, http.MethodGet, "/isValidThread/"+threadID, "")
	if recorder.Code != http.StatusOK {
		t.Errorf("isValidThread returned %d for a known thread", recorder.Code)
	}

	recorder = doRequest(handler, http.MethodGet, "/isValidThread/19:unknown", "")
	assertErrorResponse(t, recorder, http.StatusNotFound, "NOT_FOUND")
}

func TestCreateRoomEndpoint(t *testing.T) {
	handler, _, _, store := newTestServer(config.Config{})

	threadID := doRequest(handler, http.MethodPost, "/createThread", "").Body.String()
	eventID := eventIDForThread(t, store, threadID)

	recorder := doRequest(handler, http.MethodPost, "/createRoom", `{"eventId":"`+eventID+`","title":"Breakout"}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("createRoom returned %d (%s)", recorder.Code, recorder.Body.String())
	}
	roomID := recorder.Body.String()
	if roomID == "" {
		t.Fatal("expected a room id body")
	}

	recorder = doRequest(handler, http.MethodGet, "/event/"+eventID, "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("event returned %d", recorder.Code)
	}
	payload := decodeResponse(t, recorder)
	rooms, ok := payload["rooms"].(map[string]any)
	if !ok || len(rooms) != 1 {
		t.Fatalf("expected one room on the event, got %v", payload["rooms"])
	}
	if _, ok := rooms[roomID]; !ok {
		t.Errorf("room %s missing from event payload", roomID)
	}
}

func TestCreateRoomValidation(t *testing.T) {
	handler, _, _, _ := newTestServer(config.Config{})

	recorder := doRequest(handler, http.MethodPost, "/createRoom", `{"title":"no event"}`)
	assertErrorResponse(t, recorder, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	recorder = doRequest(handler, http.MethodPost, "/createRoom", `{not json`)
	assertErrorResponse(t, recorder, http.StatusBadRequest, "INVALID_BODY")

	recorder = doRequest(handler, http.MethodPost, "/createRoom", `{"eventId":"nope","title":"x"}`)
	assertErrorResponse(t, recorder, http.StatusNotFound, "NOT_FOUND")
}

func TestEventEndpointUnknown(t *testing.T) {
	handler, _, _, _ := newTestServer(config.Config{})
	recorder := doRequest(handler, http.MethodGet, "/event/nope", "")
	assertErrorResponse(t, recorder, http.StatusNotFound, "NOT_FOUND")
}

func TestAddUserEndpoint(t *testing.T) {
	handler, _, backend, _ := newTestServer(config.Config{})

	threadID := doRequest(handler, http.MethodPost, "/createThread", "").Body.String()

	recorder := doRequest(handler, http.MethodPost, "/addUser/"+threadID, `{"id":"8:user","displayName":"Avery"}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("addUser returned %d (%s)", recorder.Code, recorder.Body.String())
	}
	payload := decodeResponse(t, recorder)
	if payload["ok"] != true {
		t.Errorf("unexpected body %v", payload)
	}
	if got := len(backend.participants[threadID]); got != 2 {
		t.Errorf("expected moderator plus admitted user, got %d", got)
	}
}

func TestAddUserValidation(t *testing.T) {
	handler, _, _, _ := newTestServer(config.Config{})

	threadID := doRequest(handler, http.MethodPost, "/createThread", "").Body.String()

	recorder := doRequest(handler, http.MethodPost, "/addUser/"+threadID, `{"displayName":"Avery"}`)
	assertErrorResponse(t, recorder, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	recorder = doRequest(handler, http.MethodPost, "/addUser/"+threadID, `{"id":"8:user"}`)
	assertErrorResponse(t, recorder, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	recorder = doRequest(handler, http.MethodPost, "/addUser/"+threadID, `{bad`)
	assertErrorResponse(t, recorder, http.StatusBadRequest, "INVALID_BODY")

	recorder = doRequest(handler, http.MethodPost, "/addUser/19:unknown", `{"id":"8:user","displayName":"Avery"}`)
	assertErrorResponse(t, recorder, http.StatusNotFound, "NOT_FOUND")
}

func TestRoomThreadEndpoints(t *testing.T) {
	cfg := config.Config{SeedEventID: "live-event", SeedRoomTitles: []string{"Lounge"}}
	handler, service, _, _ := newTestServer(cfg)
	if err := service.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}

	event, err := service.GetEvent(context.Background(), "live-event")
	if err != nil {
		t.Fatalf("GetEvent failed: %v", err)
	}
	var roomID string
	for id := range event.Rooms {
		roomID = id
	}

	recorder := doRequest(handler, http.MethodPost, "/addUserToRoom/"+roomID, `{"id":"8:user","displayName":"Avery"}`)
	assertErrorResponse(t, recorder, http.StatusNotFound, "NOT_FOUND")

	recorder = doRequest(handler, http.MethodPost, "/createRoomThread/"+roomID, "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("createRoomThread returned %d (%s)", recorder.Code, recorder.Body.String())
	}
	threadID := recorder.Body.String()

	again := doRequest(handler, http.MethodPost, "/createRoomThread/"+roomID, "")
	if again.Body.String() != threadID {
		t.Errorf("expected idempotent thread id, got %q then %q", threadID, again.Body.String())
	}

	recorder = doRequest(handler, http.MethodPost, "/addUserToRoom/"+roomID, `{"id":"8:user","displayName":"Avery"}`)
	if recorder.Code != http.StatusOK {
		t.Errorf("addUserToRoom returned %d after minting a thread", recorder.Code)
	}

	recorder = doRequest(handler, http.MethodPost, "/createRoomThread/nope", "")
	assertErrorResponse(t, recorder, http.StatusNotFound, "NOT_FOUND")
}

func TestUnknownRoute(t *testing.T) {
	handler, _, _, _ := newTestServer(config.Config{})
	recorder := doRequest(handler, http.MethodGet, "/nope", "")
	assertErrorResponse(t, recorder, http.StatusNotFound, "NOT_FOUND")
}

func TestCORSAndRequestID(t *testing.T) {
	handler, _, _, _ := newTestServer(config.Config{})

	recorder := doRequest(handler, http.MethodOptions, "/token", "")
	if recorder.Code != http.StatusNoContent {
		t.Errorf("preflight returned %d", recorder.Code)
	}
	if got := recorder.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("unexpected allow-origin %q", got)
	}

	request := httptest.NewRequest(http.MethodGet, "/health", nil)
	request.Header.Set("X-Request-ID", "req-42")
	echo := httptest.NewRecorder()
	handler.ServeHTTP(echo, request)
	if got := echo.Header().Get("X-Request-ID"); got != "req-42" {
		t.Errorf("expected request id to be echoed, got %q", got)
	}
}
