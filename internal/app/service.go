package app

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"gatehouse/api/internal/chat"
	"gatehouse/api/internal/config"
	"gatehouse/api/internal/directory"
	"gatehouse/api/internal/identity"
	"gatehouse/api/internal/util"
)

// initialTopicID is the fixed topic set on every thread the service creates.
// Clients rename the thread afterwards; the backend requires a topic at
// creation time.
const initialTopicID = "b5f9cd14-1f43-4b34-8c42-e3a0f4d7a2c6"

// TokenIssuer mints and refreshes access tokens for communication
// identities.
type TokenIssuer interface {
	CreateIdentity(ctx context.Context) (identity.UserToken, error)
	IssueToken(ctx context.Context, userID string) (identity.AccessToken, error)
}

// ChatClient is the chat-backend surface the service needs, scoped by the
// token the client was dialed with.
type ChatClient interface {
	CreateThread(ctx context.Context, topic string, participants []chat.Participant) (string, error)
	ThreadProperties(ctx context.Context, threadID string) (chat.ThreadProperties, error)
	AddParticipant(ctx context.Context, threadID string, participant chat.Participant) error
}

// ChatDialer builds a chat client authorized by the given access token.
type ChatDialer func(token string) ChatClient

// Service owns the directory invariants: thread and room creation, lookup,
// and the admission workflow. It holds no state beyond its handles.
type Service struct {
	cfg        config.Config
	store      directory.Store
	issuer     TokenIssuer
	dialChat   ChatDialer
	gatewayURL string
}

func New(cfg config.Config, store directory.Store, issuer TokenIssuer, dialChat ChatDialer, gatewayURL string) *Service {
	return &Service{
		cfg:        cfg,
		store:      store,
		issuer:     issuer,
		dialChat:   dialChat,
		gatewayURL: gatewayURL,
	}
}

// Bootstrap seeds the configured event once at process start. It is
// idempotent: when the record already exists nothing happens.
func (s *Service) Bootstrap(ctx context.Context) error {
	seedID := s.cfg.SeedEventID
	if seedID == "" {
		return nil
	}
	exists, err := s.store.ContainsKey(ctx, directory.EventKey(seedID))
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	moderator, threadID, err := s.mintModeratorAndThread(ctx)
	if err != nil {
		return fmt.Errorf("seed event %s: %w", seedID, err)
	}
	event := directory.Event{
		ID:          seedID,
		ThreadID:    threadID,
		ModeratorID: moderator,
		Rooms:       make(map[string]directory.Room),
	}
	// Seed rooms start calling-only: no chat thread until the first
	// CreateRoomThread call mints one.
	for _, title := range s.cfg.SeedRoomTitles {
		room := directory.Room{
			ID:               util.NewID("room"),
			Title:            title,
			CallingSessionID: util.NewID("call"),
		}
		event.Rooms[room.ID] = room
	}
	if err := s.storeEvent(ctx, event); err != nil {
		return fmt.Errorf("seed event %s: %w", seedID, err)
	}
	for roomID := range event.Rooms {
		binding, err := directory.EncodeRoomBinding(directory.RoomBinding{EventID: seedID})
		if err != nil {
			return err
		}
		if err := s.store.Put(ctx, directory.RoomKey(roomID), binding); err != nil {
			return err
		}
	}
	log.Printf("seeded event %s with thread %s and %d rooms", seedID, threadID, len(event.Rooms))
	return nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// EnvironmentURL returns the chat gateway base URL clients should connect to.
func (s *Service) EnvironmentURL() string {
	return s.gatewayURL
}

// Token mints a fresh identity together with its first access token.
func (s *Service) Token(ctx context.Context) (identity.UserToken, error) {
	userToken, err := s.issuer.CreateIdentity(ctx)
	if err != nil {
		log.Printf("token issuer: create identity failed: %v", err)
		return identity.UserToken{}, domainError(http.StatusBadGateway, "TOKEN_ISSUE_FAILED", "Could not mint identity", nil)
	}
	return userToken, nil
}

// RefreshToken issues a new access token for an existing identity.
func (s *Service) RefreshToken(ctx context.Context, userID string) (identity.AccessToken, error) {
	token, err := s.issuer.IssueToken(ctx, userID)
	if err != nil {
		log.Printf("token issuer: refresh for identity failed: %v", err)
		return identity.AccessToken{}, domainError(http.StatusBadGateway, "TOKEN_ISSUE_FAILED", "Could not refresh token", nil)
	}
	return token, nil
}

// CreateThread mints a moderator identity, creates a chat thread owned by
// it, and records the event with its thread binding. This is the only way
// new main threads enter the directory.
func (s *Service) CreateThread(ctx context.Context) (string, error) {
	moderator, threadID, err := s.mintModeratorAndThread(ctx)
	if err != nil {
		return "", err
	}
	event := directory.Event{
		ID:          util.NewID("event"),
		ThreadID:    threadID,
		ModeratorID: moderator,
		Rooms:       make(map[string]directory.Room),
	}
	if err := s.storeEvent(ctx, event); err != nil {
		return "", err
	}
	return threadID, nil
}

// CreateRoom creates a room under an event with its own moderator and
// thread, appending it to the event atomically.
func (s *Service) CreateRoom(ctx context.Context, eventID, title string) (string, error) {
	exists, err := s.store.ContainsKey(ctx, directory.EventKey(eventID))
	if err != nil {
		return "", err
	}
	if !exists {
		return "", domainError(http.StatusNotFound, "NOT_FOUND", "Event not found", nil)
	}

	moderator, threadID, err := s.mintModeratorAndThread(ctx)
	if err != nil {
		return "", err
	}
	room := directory.Room{
		ID:          util.NewID("room"),
		Title:       title,
		ThreadID:    threadID,
		ModeratorID: moderator,
	}
	if err := s.appendRoom(ctx, eventID, room); err != nil {
		return "", err
	}
	if err := s.bindRoom(ctx, eventID, room); err != nil {
		return "", err
	}
	return room.ID, nil
}

// CreateRoomThread mints a thread for a room that does not have one yet
// (rooms seeded for calling only). It is idempotent: if the room is already
// bound to a thread, that thread id is returned.
func (s *Service) CreateRoomThread(ctx context.Context, roomID string) (string, error) {
	eventID, room, err := s.resolveRoom(ctx, roomID)
	if err != nil {
		return "", err
	}
	if room.ThreadID != "" {
		return room.ThreadID, nil
	}

	moderator, threadID, err := s.mintModeratorAndThread(ctx)
	if err != nil {
		return "", err
	}

	// A concurrent caller may have bound a thread in the meantime; the
	// update keeps whichever binding lands first.
	boundThreadID := threadID
	err = s.store.Update(ctx, directory.EventKey(eventID), func(current []byte, found bool) ([]byte, error) {
		if !found {
			return nil, fmt.Errorf("event %s missing for room %s", eventID, roomID)
		}
		event, err := directory.DecodeEvent(current)
		if err != nil {
			return nil, err
		}
		existing, ok := event.Rooms[roomID]
		if !ok {
			return nil, fmt.Errorf("room %s missing from event %s", roomID, eventID)
		}
		if existing.ThreadID != "" {
			boundThreadID = existing.ThreadID
			return current, nil
		}
		existing.ThreadID = threadID
		existing.ModeratorID = moderator
		event.Rooms[roomID] = existing
		return directory.EncodeEvent(event)
	})
	if err != nil {
		return "", err
	}

	if boundThreadID == threadID {
		if err := s.putThreadBinding(ctx, threadID, eventID, roomID); err != nil {
			return "", err
		}
	}
	return boundThreadID, nil
}

// GetEvent loads an event record.
func (s *Service) GetEvent(ctx context.Context, eventID string) (directory.Event, error) {
	record, found, err := s.store.Get(ctx, directory.EventKey(eventID))
	if err != nil {
		return directory.Event{}, err
	}
	if !found {
		return directory.Event{}, domainError(http.StatusNotFound, "NOT_FOUND", "Event not found", nil)
	}
	return directory.DecodeEvent(record)
}

// IsValidThread reports whether a thread is known to the directory, either
// as an event's main thread or as a room thread.
func (s *Service) IsValidThread(ctx context.Context, threadID string) (bool, error) {
	return s.store.ContainsKey(ctx, directory.ThreadKey(threadID))
}

// GetModerator resolves the moderator owning a thread: one index lookup,
// then one event load.
func (s *Service) GetModerator(ctx context.Context, threadID string) (string, bool, error) {
	record, found, err := s.store.Get(ctx, directory.ThreadKey(threadID))
	if err != nil {
		return "", false, err
	}
	if !found {
		return "", false, nil
	}
	binding, err := directory.DecodeThreadBinding(record)
	if err != nil {
		return "", false, err
	}

	eventRecord, found, err := s.store.Get(ctx, directory.EventKey(binding.EventID))
	if err != nil {
		return "", false, err
	}
	if !found {
		return "", false, fmt.Errorf("event %s missing for thread %s", binding.EventID, threadID)
	}
	event, err := directory.DecodeEvent(eventRecord)
	if err != nil {
		return "", false, err
	}

	if binding.RoomID == "" {
		if event.ThreadID != threadID {
			return "", false, fmt.Errorf("thread binding for %s points at event %s with different main thread", threadID, event.ID)
		}
		return event.ModeratorID, true, nil
	}
	room, ok := event.Rooms[binding.RoomID]
	if !ok {
		return "", false, fmt.Errorf("room %s missing from event %s", binding.RoomID, event.ID)
	}
	return room.ModeratorID, true, nil
}

// AddUserToThread admits a user into a thread using a moderator-scoped
// token. An unknown thread fails before any remote call. Once the moderator
// is resolved and a token issued, admission is best effort: chat-backend
// failures are logged and the caller still sees success, because the caller
// has already confirmed the thread is valid and must not be blocked on a
// backend race.
func (s *Service) AddUserToThread(ctx context.Context, threadID, userID, displayName string) error {
	moderatorID, found, err := s.GetModerator(ctx, threadID)
	if err != nil {
		return err
	}
	if !found {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Thread not found", nil)
	}

	token, err := s.issuer.IssueToken(ctx, moderatorID)
	if err != nil {
		log.Printf("token issuer: moderator token for thread %s failed: %v", threadID, err)
		return domainError(http.StatusBadGateway, "TOKEN_ISSUE_FAILED", "Could not issue moderator token", nil)
	}

	client := s.dialChat(token.Token)
	properties, err := client.ThreadProperties(ctx, threadID)
	if err != nil {
		log.Printf("admission: fetching properties of thread %s failed: %v", threadID, err)
		return nil
	}

	participant := chat.Participant{
		UserID:           userID,
		DisplayName:      displayName,
		ShareHistoryTime: properties.CreatedOn,
	}
	if err := client.AddParticipant(ctx, threadID, participant); err != nil {
		log.Printf("admission: adding user to thread %s failed: %v", threadID, err)
		return nil
	}
	return nil
}

// AddUserToRoom admits a user into a room's thread.
func (s *Service) AddUserToRoom(ctx context.Context, roomID, userID, displayName string) error {
	_, room, err := s.resolveRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if room.ThreadID == "" {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Room has no thread", nil)
	}
	return s.AddUserToThread(ctx, room.ThreadID, userID, displayName)
}

// mintModeratorAndThread performs the moderator-mint-then-thread-create
// sequence shared by every creation path. The moderator is the thread's
// first participant.
func (s *Service) mintModeratorAndThread(ctx context.Context) (moderatorID, threadID string, err error) {
	moderator, err := s.issuer.CreateIdentity(ctx)
	if err != nil {
		log.Printf("token issuer: create moderator failed: %v", err)
		return "", "", domainError(http.StatusBadGateway, "TOKEN_ISSUE_FAILED", "Could not mint moderator identity", nil)
	}

	client := s.dialChat(moderator.AccessToken.Token)
	threadID, err = client.CreateThread(ctx, initialTopicID, []chat.Participant{
		{UserID: moderator.UserID},
	})
	if err != nil {
		return "", "", fmt.Errorf("create thread: %w", err)
	}
	return moderator.UserID, threadID, nil
}

// storeEvent writes a fully formed event record and then its main-thread
// binding. The binding goes last so a thread only becomes valid once its
// event is readable.
func (s *Service) storeEvent(ctx context.Context, event directory.Event) error {
	record, err := directory.EncodeEvent(event)
	if err != nil {
		return err
	}
	if err := s.store.Put(ctx, directory.EventKey(event.ID), record); err != nil {
		return err
	}
	return s.putThreadBinding(ctx, event.ThreadID, event.ID, "")
}

// appendRoom adds a fully formed room to its event under the store's
// atomic update, so concurrent room creations never lose each other.
func (s *Service) appendRoom(ctx context.Context, eventID string, room directory.Room) error {
	return s.store.Update(ctx, directory.EventKey(eventID), func(current []byte, found bool) ([]byte, error) {
		if !found {
			return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Event not found", nil)
		}
		event, err := directory.DecodeEvent(current)
		if err != nil {
			return nil, err
		}
		event.Rooms[room.ID] = room
		return directory.EncodeEvent(event)
	})
}

// bindRoom writes the room and thread index entries after the room is
// visible on its event.
func (s *Service) bindRoom(ctx context.Context, eventID string, room directory.Room) error {
	binding, err := directory.EncodeRoomBinding(directory.RoomBinding{EventID: eventID})
	if err != nil {
		return err
	}
	if err := s.store.Put(ctx, directory.RoomKey(room.ID), binding); err != nil {
		return err
	}
	return s.putThreadBinding(ctx, room.ThreadID, eventID, room.ID)
}

func (s *Service) putThreadBinding(ctx context.Context, threadID, eventID, roomID string) error {
	record, err := directory.EncodeThreadBinding(directory.ThreadBinding{EventID: eventID, RoomID: roomID})
	if err != nil {
		return err
	}
	return s.store.Put(ctx, directory.ThreadKey(threadID), record)
}

// resolveRoom finds a room by id through the room index.
func (s *Service) resolveRoom(ctx context.Context, roomID string) (string, directory.Room, error) {
	record, found, err := s.store.Get(ctx, directory.RoomKey(roomID))
	if err != nil {
		return "", directory.Room{}, err
	}
	if !found {
		return "", directory.Room{}, domainError(http.StatusNotFound, "NOT_FOUND", "Room not found", nil)
	}
	binding, err := directory.DecodeRoomBinding(record)
	if err != nil {
		return "", directory.Room{}, err
	}

	eventRecord, found, err := s.store.Get(ctx, directory.EventKey(binding.EventID))
	if err != nil {
		return "", directory.Room{}, err
	}
	if !found {
		return "", directory.Room{}, fmt.Errorf("event %s missing for room %s", binding.EventID, roomID)
	}
	event, err := directory.DecodeEvent(eventRecord)
	if err != nil {
		return "", directory.Room{}, err
	}
	room, ok := event.Rooms[roomID]
	if !ok {
		return "", directory.Room{}, fmt.Errorf("room %s missing from event %s", roomID, event.ID)
	}
	return binding.EventID, room, nil
}
