// Package chat talks to the chat backend that owns threads and participants.
package chat

import "time"

// Participant is a member of a chat thread. ShareHistoryTime controls how
// far back the participant can read.
type Participant struct {
	UserID           string
	DisplayName      string
	ShareHistoryTime time.Time
}

// ThreadProperties are the backend-owned attributes of a thread.
type ThreadProperties struct {
	ID        string
	Topic     string
	CreatedOn time.Time
}
