package models

import "time"

// ComponentHealth describes one backend.
type ComponentHealth struct {
	Name      string `json:"name"`
	Backend   string `json:"backend"`
	Available bool   `json:"available"`
	Detail    string `json:"detail,omitempty"`
}

// Health reports which backends are reachable. Mode is "generative" when answers
// are expected to come from the language model, otherwise "extractive".
type Health struct {
	Status     string            `json:"status"`
	Mode       string            `json:"mode"`
	Components []ComponentHealth `json:"components"`
	Documents  int               `json:"documents"`
	Chunks     int               `json:"chunks"`
	CheckedAt  time.Time         `json:"checked_at"`
}
