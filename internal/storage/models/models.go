package models

import "time"

// TurnRecord is the audit row written once per answered turn. The raw
// question text is stored so the owner can follow up on escalations.
type TurnRecord struct {
	ID           string
	SessionID    string
	QuestionHash string
	QuestionText string
	Language     string
	Answer       string
	Status       string
	Category     string
	Action       string
	Confidence   float64
	Revisions    int
	Cached       bool
	LatencyMS    int64
	CreatedAt    time.Time
}

type TurnSource struct {
	ID     int64
	TurnID string
	DocID  string
	Rank   int
}

type Feedback struct {
	ID        int64
	TurnID    string
	Helpful   bool
	Comment   string
	CreatedAt time.Time
}

// ResumeChunk mirrors a passage written to the vector store by the seeder.
type ResumeChunk struct {
	ID        string
	Section   string
	Source    string
	Language  string
	Text      string
	CreatedAt time.Time
}

type Stats struct {
	Turns       int64 `json:"turns"`
	Escalations int64 `json:"escalations"`
	Contacts    int64 `json:"contacts"`
	Chunks      int64 `json:"chunks"`
}
