package repository

import (
	"context"
	"database/sql"
)

// PaymentRepo looks up the payment methods registered by users.  Card
// details are owned by the account service; this service only needs
// to know whether one exists.
type PaymentRepo struct {
	db *sql.DB
}

// NewPaymentRepo returns a PaymentRepo bound to db.
func NewPaymentRepo(db *sql.DB) *PaymentRepo { return &PaymentRepo{db: db} }

// HasPaymentMethod reports whether userID has at least one credit card
// on file.
func (r *PaymentRepo) HasPaymentMethod(ctx context.Context, userID uint64) (bool, error) {
	const q = `SELECT EXISTS(SELECT 1 FROM credit_cards WHERE user_id = ?)`
	var ok bool
	if err := r.db.QueryRowContext(ctx, q, userID).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}
