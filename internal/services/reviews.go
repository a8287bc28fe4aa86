package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	fsrs "github.com/open-spaced-repetition/go-fsrs"

	"flash-agent/internal/models"
)

// ReviewService schedules the next review of a store flashcard from the
// outcome of each answer check.
type ReviewService struct {
	db     *sql.DB
	params fsrs.Parameters
	now    func() time.Time
}

func NewReviewService(db *sql.DB) *ReviewService {
	return &ReviewService{
		db:     db,
		params: fsrs.DefaultParam(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// RatingFor maps a check status to an FSRS rating. Errors are not reviews.
func RatingFor(status models.CheckStatus) (fsrs.Rating, bool) {
	switch status {
	case models.StatusCorrect:
		return fsrs.Good, true
	case models.StatusPartial:
		return fsrs.Hard, true
	case models.StatusIncorrect:
		return fsrs.Again, true
	default:
		return 0, false
	}
}

// Record applies a graded answer to the card's schedule and returns the
// updated state.
func (s *ReviewService) Record(ctx context.Context, flashcardID int64, status models.CheckStatus) (*models.ReviewCard, *models.ReviewLog, error) {
	rating, ok := RatingFor(status)
	if !ok {
		return nil, nil, fmt.Errorf("status %q is not reviewable", status)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := s.now()
	card, err := loadReviewCard(ctx, tx, flashcardID)
	if errors.Is(err, sql.ErrNoRows) {
		card = &models.ReviewCard{FlashcardID: flashcardID, State: int(fsrs.New), CreatedAt: now}
		err = nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load review card %d: %w", flashcardID, err)
	}

	scheduling := s.params.Repeat(card.ToFSRSCard(), now)
	info, ok := scheduling[rating]
	if !ok {
		err = fmt.Errorf("rating %d not supported", rating)
		return nil, nil, err
	}
	card.ApplyFSRSCard(info.Card)
	card.UpdatedAt = now

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO review_cards (flashcard_id, due, stability, difficulty, elapsed_days, scheduled_days,
		                          reps, lapses, state, last_review, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(flashcard_id) DO UPDATE SET
			due = excluded.due, stability = excluded.stability, difficulty = excluded.difficulty,
			elapsed_days = excluded.elapsed_days, scheduled_days = excluded.scheduled_days,
			reps = excluded.reps, lapses = excluded.lapses, state = excluded.state,
			last_review = excluded.last_review, updated_at = excluded.updated_at;
	`,
		card.FlashcardID,
		nullTimePtr(card.Due),
		card.Stability,
		card.Difficulty,
		card.ElapsedDays,
		card.ScheduledDays,
		card.Reps,
		card.Lapses,
		card.State,
		nullTimePtr(card.LastReview),
		card.CreatedAt,
		card.UpdatedAt,
	); err != nil {
		return nil, nil, fmt.Errorf("upsert review card %d: %w", flashcardID, err)
	}

	var res sql.Result
	if res, err = tx.ExecContext(ctx, `
		INSERT INTO review_logs (flashcard_id, status, rating, scheduled_days, elapsed_days, state, reviewed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?);
	`, flashcardID, status, info.ReviewLog.Rating, info.ReviewLog.ScheduledDays, info.ReviewLog.ElapsedDays, info.ReviewLog.State, now); err != nil {
		return nil, nil, fmt.Errorf("insert review log: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit review: %w", err)
	}

	logID, _ := res.LastInsertId()
	return card, &models.ReviewLog{
		ID:            logID,
		FlashcardID:   flashcardID,
		Status:        status,
		Rating:        int(info.ReviewLog.Rating),
		ScheduledDays: int(info.ReviewLog.ScheduledDays),
		ElapsedDays:   int(info.ReviewLog.ElapsedDays),
		State:         int(info.ReviewLog.State),
		ReviewedAt:    now,
	}, nil
}

// Due lists flashcard ids whose next review is at or before now.
func (s *ReviewService) Due(ctx context.Context, limit int) ([]models.ReviewCard, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT flashcard_id, due, stability, difficulty, elapsed_days, scheduled_days,
		       reps, lapses, state, last_review, created_at, updated_at
		FROM review_cards
		WHERE due IS NOT NULL AND due <= ?
		ORDER BY due ASC
		LIMIT ?;
	`, s.now(), limit)
	if err != nil {
		return nil, fmt.Errorf("query due cards: %w", err)
	}
	defer rows.Close()

	var cards []models.ReviewCard
	for rows.Next() {
		card, err := scanReviewCard(rows)
		if err != nil {
			return nil, err
		}
		cards = append(cards, *card)
	}
	return cards, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func loadReviewCard(ctx context.Context, tx *sql.Tx, flashcardID int64) (*models.ReviewCard, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT flashcard_id, due, stability, difficulty, elapsed_days, scheduled_days,
		       reps, lapses, state, last_review, created_at, updated_at
		FROM review_cards
		WHERE flashcard_id = ?;
	`, flashcardID)
	return scanReviewCard(row)
}

func scanReviewCard(row rowScanner) (*models.ReviewCard, error) {
	var card models.ReviewCard
	if err := row.Scan(
		&card.FlashcardID,
		&card.Due,
		&card.Stability,
		&card.Difficulty,
		&card.ElapsedDays,
		&card.ScheduledDays,
		&card.Reps,
		&card.Lapses,
		&card.State,
		&card.LastReview,
		&card.CreatedAt,
		&card.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &card, nil
}

func nullTimePtr(t sql.NullTime) any {
	if !t.Valid {
		return nil
	}
	return t.Time
}
