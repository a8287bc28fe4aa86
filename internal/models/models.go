package models

import (
	"database/sql"
	"time"

	fsrs "github.com/open-spaced-repetition/go-fsrs"
)

// Flashcard is a study unit owned by the external flashcard store.
type Flashcard struct {
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// NewFlashcard is the body sent to the store on creation.
type NewFlashcard struct {
	Title    string `json:"title"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

type CheckStatus string

const (
	StatusCorrect   CheckStatus = "correto"
	StatusPartial   CheckStatus = "parcial"
	StatusIncorrect CheckStatus = "incorreto"
	StatusError     CheckStatus = "erro"
)

// CheckResult is the graded outcome of a check-answer request.
type CheckResult struct {
	Status         CheckStatus `json:"status"`
	Feedback       string      `json:"feedback"`
	OfficialAnswer string      `json:"official_answer"`
	NextReview     *time.Time  `json:"next_review,omitempty"`
}

type DocumentStatus string

const (
	DocumentCompleted DocumentStatus = "completed"
	DocumentFailed    DocumentStatus = "failed"
)

// Document records one processed upload.
type Document struct {
	ID            int64          `json:"id"`
	Filename      string         `json:"filename"`
	SizeBytes     int64          `json:"size_bytes"`
	PageCount     int            `json:"page_count"`
	PagesWithText int            `json:"pages_with_text"`
	Truncated     bool           `json:"truncated"`
	Status        DocumentStatus `json:"status"`
	Error         string         `json:"error,omitempty"`
	Response      string         `json:"response,omitempty"`
	UploadedAt    time.Time      `json:"uploaded_at"`
}

// ReviewCard holds the local scheduling state of a store flashcard.
type ReviewCard struct {
	FlashcardID   int64
	Due           sql.NullTime
	Stability     float64
	Difficulty    float64
	ElapsedDays   int
	ScheduledDays int
	Reps          int
	Lapses        int
	State         int
	LastReview    sql.NullTime
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type ReviewLog struct {
	ID            int64
	FlashcardID   int64
	Status        CheckStatus
	Rating        int
	ScheduledDays int
	ElapsedDays   int
	State         int
	ReviewedAt    time.Time
}

func (c *ReviewCard) ToFSRSCard() fsrs.Card {
	card := fsrs.Card{
		Stability:     c.Stability,
		Difficulty:    c.Difficulty,
		ElapsedDays:   uint64(max(c.ElapsedDays, 0)),
		ScheduledDays: uint64(max(c.ScheduledDays, 0)),
		Reps:          uint64(max(c.Reps, 0)),
		Lapses:        uint64(max(c.Lapses, 0)),
		State:         fsrs.State(max(c.State, 0)),
	}
	if c.Due.Valid {
		card.Due = c.Due.Time
	}
	if c.LastReview.Valid {
		card.LastReview = c.LastReview.Time
	}
	return card
}

func (c *ReviewCard) ApplyFSRSCard(f fsrs.Card) {
	c.Due = sql.NullTime{Time: f.Due, Valid: !f.Due.IsZero()}
	c.Stability = f.Stability
	c.Difficulty = f.Difficulty
	c.ElapsedDays = int(f.ElapsedDays)
	c.ScheduledDays = int(f.ScheduledDays)
	c.Reps = int(f.Reps)
	c.Lapses = int(f.Lapses)
	c.State = int(f.State)
	c.LastReview = sql.NullTime{Time: f.LastReview, Valid: !f.LastReview.IsZero()}
}
