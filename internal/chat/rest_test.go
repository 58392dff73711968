package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRESTClientCreateThread(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"chatThread": map[string]any{"id": "19:thread-1"},
		})
	}))
	defer server.Close()

	client := NewRESTFactory(server.URL).WithToken("moderator-token")
	threadID, err := client.CreateThread(context.Background(), "topic-1", []Participant{
		{UserID: "8:acs:moderator"},
	})
	if err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}
	if threadID != "19:thread-1" {
		t.Errorf("unexpected thread id %q", threadID)
	}
	if gotAuth != "Bearer moderator-token" {
		t.Errorf("unexpected authorization header %q", gotAuth)
	}
	if gotPath != "/chat/threads" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if gotBody["topic"] != "topic-1" {
		t.Errorf("unexpected topic %v", gotBody["topic"])
	}
	participants, ok := gotBody["participants"].([]any)
	if !ok || len(participants) != 1 {
		t.Fatalf("expected one participant, got %v", gotBody["participants"])
	}
}

func TestRESTClientCreateThreadRequiresID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"chatThread":{}}`))
	}))
	defer server.Close()

	client := NewRESTFactory(server.URL).WithToken("tok")
	if _, err := client.CreateThread(context.Background(), "topic", nil); err == nil {
		t.Error("expected error when the backend returns no thread id")
	}
}

func TestRESTClientThreadProperties(t *testing.T) {
	createdOn := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/chat/threads/") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":        "19:thread-1",
			"topic":     "topic-1",
			"createdOn": createdOn.Format(time.RFC3339),
		})
	}))
	defer server.Close()

	client := NewRESTFactory(server.URL).WithToken("tok")
	properties, err := client.ThreadProperties(context.Background(), "19:thread-1")
	if err != nil {
		t.Fatalf("ThreadProperties failed: %v", err)
	}
	if !properties.CreatedOn.Equal(createdOn) {
		t.Errorf("expected createdOn %v, got %v", createdOn, properties.CreatedOn)
	}
}

func TestRESTClientAddParticipant(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	shareFrom := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	client := NewRESTFactory(server.URL).WithToken("tok")
	err := client.AddParticipant(context.Background(), "19:thread-1", Participant{
		UserID:           "8:acs:user",
		DisplayName:      "Avery",
		ShareHistoryTime: shareFrom,
	})
	if err != nil {
		t.Fatalf("AddParticipant failed: %v", err)
	}
	if !strings.HasSuffix(gotPath, "/participants/:add") {
		t.Errorf("unexpected path %q", gotPath)
	}
	participants, ok := gotBody["participants"].([]any)
	if !ok || len(participants) != 1 {
		t.Fatalf("expected one participant, got %v", gotBody["participants"])
	}
	entry := participants[0].(map[string]any)
	if entry["displayName"] != "Avery" {
		t.Errorf("unexpected display name %v", entry["displayName"])
	}
	if entry["shareHistoryTime"] != shareFrom.Format(time.RFC3339) {
		t.Errorf("unexpected shareHistoryTime %v", entry["shareHistoryTime"])
	}
}

func TestRESTClientSurfacesGatewayErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "conflict", http.StatusConflict)
	}))
	defer server.Close()

	client := NewRESTFactory(server.URL).WithToken("tok")
	if err := client.AddParticipant(context.Background(), "19:thread-1", Participant{UserID: "8:acs:user"}); err == nil {
		t.Error("expected error from a 409 response")
	}
}

func TestLocalBackendRoundTrip(t *testing.T) {
	backend := NewLocalBackend()
	client := backend.WithToken("tok")
	ctx := context.Background()

	threadID, err := client.CreateThread(ctx, "topic", []Participant{{UserID: "8:gh:moderator"}})
	if err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}
	properties, err := client.ThreadProperties(ctx, threadID)
	if err != nil {
		t.Fatalf("ThreadProperties failed: %v", err)
	}
	if properties.CreatedOn.IsZero() {
		t.Error("expected a creation timestamp")
	}

	if err := client.AddParticipant(ctx, threadID, Participant{UserID: "8:gh:user", DisplayName: "Robin"}); err != nil {
		t.Fatalf("AddParticipant failed: %v", err)
	}
	if got := len(backend.Participants(threadID)); got != 2 {
		t.Errorf("expected 2 participants, got %d", got)
	}

	if _, err := client.ThreadProperties(ctx, "19:unknown@thread.local"); err == nil {
		t.Error("expected error for unknown thread")
	}
}
