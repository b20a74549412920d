package store

import (
	"context"

	"checkout-service/internal/models"
)

// CreateEmailLog records a pending email attempt
func (r *Repo) CreateEmailLog(ctx context.Context, entry *models.EmailLog) error {
	query := `
		INSERT INTO email_logs (email_type, recipient_email, recipient_name, subject, status, user_id, order_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`

	return r.q.QueryRowxContext(ctx, query,
		entry.EmailType, entry.RecipientEmail, entry.RecipientName, entry.Subject,
		entry.Status, entry.UserID, entry.OrderID).
		Scan(&entry.ID, &entry.CreatedAt)
}

// UpdateEmailLog stores the outcome of a send
func (r *Repo) UpdateEmailLog(ctx context.Context, entry *models.EmailLog) error {
	_, err := r.q.ExecContext(ctx,
		"UPDATE email_logs SET status = $1, provider_id = $2, error_message = $3, sent_at = $4 WHERE id = $5",
		entry.Status, entry.ProviderID, entry.ErrorMessage, entry.SentAt, entry.ID)
	return err
}
