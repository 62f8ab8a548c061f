package model

import (
	"encoding/json"
	"time"
)

// RunStatus represents the outcome of a scoring run.
type RunStatus string

const (
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Mode is the comparison regime a run scored against.
type Mode string

const (
	ModeGlobal Mode = "global"
	ModePeer   Mode = "peer"
)

// Run is one published scoring run. Meta carries the run's audit metadata
// (counts, degeneracies, peer bins, summary statistics) as stored JSON.
type Run struct {
	ID         string          `json:"id"`
	Mode       Mode            `json:"mode"`
	Status     RunStatus       `json:"status"`
	Entities   int             `json:"entities"`
	Scored     int             `json:"scored"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Meta       json.RawMessage `json:"meta,omitempty"`
}
