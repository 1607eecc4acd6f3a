package model

import "time"

// SubmissionEvent is published after a response row is inserted. It never
// carries the answer text.
type SubmissionEvent struct {
	ResponseID  uint      `json:"response_id"`
	NameLength  int       `json:"name_length"`
	SubmittedAt time.Time `json:"submitted_at"`
}
