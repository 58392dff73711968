package directory

import (
	"encoding/json"
	"fmt"
)

// Event is the top-level grouping: one main chat thread plus zero or more
// rooms, keyed by room id.
type Event struct {
	ID          string          `json:"id"`
	ThreadID    string          `json:"threadId"`
	ModeratorID string          `json:"moderatorId"`
	Rooms       map[string]Room `json:"rooms"`
}

// Room is a sub-scope of an event with its own thread and moderator. A room
// seeded for calling only has no thread until one is minted for it.
type Room struct {
	ID               string `json:"id"`
	Title            string `json:"title"`
	ThreadID         string `json:"threadId,omitempty"`
	ModeratorID      string `json:"moderatorId,omitempty"`
	CallingSessionID string `json:"callingSessionId,omitempty"`
}

// ThreadBinding is the index record resolving a thread id to the event that
// owns it. RoomID is empty for an event's main thread.
type ThreadBinding struct {
	EventID string `json:"eventId"`
	RoomID  string `json:"roomId,omitempty"`
}

// RoomBinding is the index record resolving a room id to its parent event.
type RoomBinding struct {
	EventID string `json:"eventId"`
}

// Key namespaces. Events, thread bindings, and room bindings share one store,
// so every record key carries its entity prefix.
func EventKey(eventID string) string   { return "event:" + eventID }
func ThreadKey(threadID string) string { return "thread:" + threadID }
func RoomKey(roomID string) string     { return "room:" + roomID }

func EncodeEvent(event Event) ([]byte, error) {
	record, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode event %s: %w", event.ID, err)
	}
	return record, nil
}

func DecodeEvent(record []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(record, &event); err != nil {
		return Event{}, fmt.Errorf("decode event record: %w", err)
	}
	if event.Rooms == nil {
		event.Rooms = make(map[string]Room)
	}
	return event, nil
}

func EncodeThreadBinding(binding ThreadBinding) ([]byte, error) {
	record, err := json.Marshal(binding)
	if err != nil {
		return nil, fmt.Errorf("encode thread binding: %w", err)
	}
	return record, nil
}

func DecodeThreadBinding(record []byte) (ThreadBinding, error) {
	var binding ThreadBinding
	if err := json.Unmarshal(record, &binding); err != nil {
		return ThreadBinding{}, fmt.Errorf("decode thread binding: %w", err)
	}
	return binding, nil
}

func EncodeRoomBinding(binding RoomBinding) ([]byte, error) {
	record, err := json.Marshal(binding)
	if err != nil {
		return nil, fmt.Errorf("encode room binding: %w", err)
	}
	return record, nil
}

func DecodeRoomBinding(record []byte) (RoomBinding, error) {
	var binding RoomBinding
	if err := json.Unmarshal(record, &binding); err != nil {
		return RoomBinding{}, fmt.Errorf("decode room binding: %w", err)
	}
	return binding, nil
}
