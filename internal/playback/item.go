// ABOUTME: Queue item and playback state types
// ABOUTME: JSON shapes pushed to clients in queue and playback events
package playback

import "time"

// Status is the lifecycle stage of a queue item
type Status string

const (
	StatusQueued  Status = "queued"
	StatusPlaying Status = "playing"
	StatusPlayed  Status = "played"
)

// Metadata is what a resolver learns about a URL
type Metadata struct {
	Title       string
	Duration    float64 // Seconds, 0 when unknown (live streams)
	PlayableURI string
	Thumbnail   string
}

// Item is one queued media entry
type Item struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Duration    float64   `json:"duration"`
	PlayableURI string    `json:"playable_uri,omitempty"`
	Thumbnail   string    `json:"thumbnail,omitempty"`
	Status      Status    `json:"status"`
	AddedAt     time.Time `json:"added_at"`
}

// DurationValue returns the duration as a time.Duration
func (i Item) DurationValue() time.Duration {
	return time.Duration(i.Duration * float64(time.Second))
}

// State is the cursor and transport flag, payload of playback/state
type State struct {
	Cursor  int   `json:"cursor"` // -1 when the queue is empty
	Playing bool  `json:"playing"`
	Current *Item `json:"current,omitempty"`
}

// Snapshot is the full queue, payload of queue/changed
type Snapshot struct {
	Items   []Item `json:"items"`
	Cursor  int    `json:"cursor"`
	Playing bool   `json:"playing"`
	Current *Item  `json:"current,omitempty"`
	History []Item `json:"history"`
}
