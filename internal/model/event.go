package model

import (
	"time"

	"github.com/google/uuid"
)

// BuildEvent is published once per finished run so downstream site builds
// can pick up new images.
type BuildEvent struct {
	RunID      uuid.UUID `json:"run_id"`
	Tab        string    `json:"tab"`
	Written    int       `json:"written"`
	Exists     int       `json:"exists"`
	Skipped    int       `json:"skipped"`
	Errors     int       `json:"errors"`
	WrittenIDs []string  `json:"written_ids"`
	FinishedAt time.Time `json:"finished_at"`
}
