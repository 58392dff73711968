package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LocalBackend is an in-process chat backend for development mode. It keeps
// threads in memory so the service runs end-to-end without a chat gateway.
type LocalBackend struct {
	mu      sync.RWMutex
	threads map[string]*localThread
}

type localThread struct {
	properties   ThreadProperties
	participants map[string]Participant
}

func NewLocalBackend() *LocalBackend {
	return &LocalBackend{threads: make(map[string]*localThread)}
}

// WithToken returns a client for the backend. The local backend does not
// inspect tokens; it exists to exercise the same call paths as the gateway.
func (b *LocalBackend) WithToken(token string) *LocalClient {
	return &LocalClient{backend: b}
}

// LocalClient implements the chat client surface against a LocalBackend.
type LocalClient struct {
	backend *LocalBackend
}

func (c *LocalClient) CreateThread(ctx context.Context, topic string, participants []Participant) (string, error) {
	threadID := "19:" + uuid.NewString() + "@thread.local"
	thread := &localThread{
		properties: ThreadProperties{
			ID:        threadID,
			Topic:     topic,
			CreatedOn: time.Now().UTC(),
		},
		participants: make(map[string]Participant, len(participants)),
	}
	for _, p := range participants {
		thread.participants[p.UserID] = p
	}

	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	c.backend.threads[threadID] = thread
	return threadID, nil
}

func (c *LocalClient) ThreadProperties(ctx context.Context, threadID string) (ThreadProperties, error) {
	c.backend.mu.RLock()
	defer c.backend.mu.RUnlock()
	thread, found := c.backend.threads[threadID]
	if !found {
		return ThreadProperties{}, fmt.Errorf("thread %s not found", threadID)
	}
	return thread.properties, nil
}

func (c *LocalClient) AddParticipant(ctx context.Context, threadID string, participant Participant) error {
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	thread, found := c.backend.threads[threadID]
	if !found {
		return fmt.Errorf("thread %s not found", threadID)
	}
	thread.participants[participant.UserID] = participant
	return nil
}

// Participants lists the members of a thread. Test helper.
func (b *LocalBackend) Participants(threadID string) []Participant {
	b.mu.RLock()
	defer b.mu.RUnlock()
	thread, found := b.threads[threadID]
	if !found {
		return nil
	}
	out := make([]Participant, 0, len(thread.participants))
	for _, p := range thread.participants {
		out = append(out, p)
	}
	return out
}
