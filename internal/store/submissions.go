package store

import (
	"context"
	"fmt"

	"github.com/Dundurn-Market/open-tender-redux/internal/models"

	"github.com/jmoiron/sqlx"
)

// RecordSubmissionEvent writes the ledger row for a checkout event once.
// It returns false when the event was already processed.
func (s *Store) RecordSubmissionEvent(ctx context.Context, eventID, eventType string, sub *models.Submission) (bool, error) {
	return s.processEvent(ctx, eventID, eventType, func(tx *sqlx.Tx) error {
		return recordSubmission(ctx, tx, sub)
	})
}

// RecordRecurrenceEvent updates the recurrence status of the submission
// that created orderID, once per event.
func (s *Store) RecordRecurrenceEvent(ctx context.Context, eventID, eventType string, orderID int64, status string) (bool, error) {
	return s.processEvent(ctx, eventID, eventType, func(tx *sqlx.Tx) error {
		return updateRecurrenceStatus(ctx, tx, orderID, status)
	})
}

// processEvent runs fn and marks the event processed in one transaction.
func (s *Store) processEvent(ctx context.Context, eventID, eventType string, fn func(tx *sqlx.Tx) error) (bool, error) {
	applied := false
	err := s.WithTx(ctx, func(tx *sqlx.Tx) error {
		processed, err := isEventProcessed(ctx, tx, eventID)
		if err != nil {
			return fmt.Errorf("failed to check idempotency: %w", err)
		}
		if processed {
			return nil
		}
		if err := fn(tx); err != nil {
			return err
		}
		if err := markEventProcessed(ctx, tx, eventID, eventType); err != nil {
			return fmt.Errorf("failed to mark event processed: %w", err)
		}
		applied = true
		return nil
	})
	return applied, err
}

func recordSubmission(ctx context.Context, tx sqlx.ExtContext, sub *models.Submission) error {
	query := `
		INSERT INTO checkout_submissions
			(event_id, session_id, order_id, status, classification, recurring, recurrence_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (event_id) DO NOTHING`

	_, err := tx.ExecContext(ctx, query,
		sub.EventID, sub.SessionID, sub.OrderID, sub.Status,
		sub.Classification, sub.Recurring, sub.RecurrenceStatus)
	if err != nil {
		return fmt.Errorf("failed to record submission: %w", err)
	}
	return nil
}

func updateRecurrenceStatus(ctx context.Context, tx sqlx.ExtContext, orderID int64, status string) error {
	res, err := tx.ExecContext(ctx,
		"UPDATE checkout_submissions SET recurrence_status = $1, updated_at = NOW() WHERE order_id = $2",
		status, orderID)
	if err != nil {
		return fmt.Errorf("failed to update recurrence status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("submission not found for order: %d", orderID)
	}
	return nil
}

func isEventProcessed(ctx context.Context, q sqlx.QueryerContext, eventID string) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, q, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

func markEventProcessed(ctx context.Context, tx sqlx.ExtContext, eventID, eventType string) error {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}

// GetSubmissionsBySession lists the ledger rows of a session, newest first
func (s *Store) GetSubmissionsBySession(ctx context.Context, sessionID string) ([]models.Submission, error) {
	subs := []models.Submission{}
	err := s.db.SelectContext(ctx, &subs,
		"SELECT * FROM checkout_submissions WHERE session_id = $1 ORDER BY created_at DESC", sessionID)
	return subs, err
}
