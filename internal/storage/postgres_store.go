package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/paygateway/server/internal/config"
	"github.com/paygateway/server/internal/dbpool"
	"github.com/paygateway/server/internal/metrics"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db      *sql.DB
	ownsDB  bool
	metrics *metrics.Metrics

	paymentTableName                string
	paymentRequestTableName         string
	refundTableName                 string
	refundRequestTableName          string
	handlerNotificationTableName    string
}

// NewPostgresStore opens its own connection pool and creates tables.
func NewPostgresStore(cfg config.PostgresConfig, m *metrics.Metrics) (*PostgresStore, error) {
	pool, err := dbpool.NewSharedPool(cfg)
	if err != nil {
		return nil, err
	}

	store := newPostgresStore(pool.DB(), m)
	store.ownsDB = true

	if err := store.createTables(); err != nil {
		_ = pool.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStoreWithDB shares an existing pool (e.g. with the admission
// facade's other database users) instead of opening a new one.
func NewPostgresStoreWithDB(db *sql.DB, m *metrics.Metrics) (*PostgresStore, error) {
	store := newPostgresStore(db, m)
	if err := store.createTables(); err != nil {
		return nil, err
	}
	return store, nil
}

func newPostgresStore(db *sql.DB, m *metrics.Metrics) *PostgresStore {
	return &PostgresStore{
		db:                            db,
		metrics:                       m,
		paymentTableName:              "payment",
		paymentRequestTableName:       "payment_request",
		refundTableName:               "refund",
		refundRequestTableName:        "refund_request",
		handlerNotificationTableName:  "handler_notification_request",
	}
}

func (s *PostgresStore) createTables() error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			external_id TEXT NOT NULL UNIQUE,
			user_id TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			amount_value TEXT NOT NULL,
			currency TEXT NOT NULL,
			status TEXT NOT NULL,
			external_cancellation_reason TEXT
		)`, s.paymentTableName),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			payment_id TEXT NOT NULL UNIQUE REFERENCES %s(id) ON DELETE RESTRICT,
			handler_url TEXT,
			extra_data JSONB,
			created_at TIMESTAMPTZ NOT NULL,
			processed_at TIMESTAMPTZ
		)`, s.paymentRequestTableName, s.paymentTableName),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			payment_id TEXT NOT NULL REFERENCES %s(id) ON DELETE RESTRICT,
			external_id TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			status TEXT NOT NULL,
			external_cancellation_reason TEXT,
			amount_value TEXT NOT NULL,
			currency TEXT NOT NULL
		)`, s.refundTableName, s.paymentTableName),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			refund_id TEXT NOT NULL UNIQUE REFERENCES %s(id) ON DELETE RESTRICT,
			handler_url TEXT,
			extra_data JSONB,
			created_at TIMESTAMPTZ NOT NULL,
			processed_at TIMESTAMPTZ
		)`, s.refundRequestTableName, s.refundTableName),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL,
			processed_at TIMESTAMPTZ,
			handler_url TEXT NOT NULL,
			data JSONB NOT NULL
		)`, s.handlerNotificationTableName),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_processed_at ON %s (processed_at)`, s.paymentRequestTableName, s.paymentRequestTableName),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_processed_at ON %s (processed_at)`, s.refundRequestTableName, s.refundRequestTableName),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_processed_at ON %s (processed_at)`, s.handlerNotificationTableName, s.handlerNotificationTableName),
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("create tables: %w", err)
		}
	}
	return nil
}

// Close closes the underlying pool if this store opened it.
func (s *PostgresStore) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

// CreatePayment inserts a Payment and its PaymentRequest in one transaction.
func (s *PostgresStore) CreatePayment(ctx context.Context, payment Payment, request PaymentRequest) error {
	defer metrics.MeasureDBQuery(s.metrics, "create_payment")()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, external_id, user_id, created_at, amount_value, currency, status, external_cancellation_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, s.paymentTableName),
		payment.ID, payment.ExternalID, payment.UserID, payment.CreatedAt,
		payment.AmountValue, payment.Currency, payment.Status, payment.ExternalCancellationReason,
	)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, payment_id, handler_url, extra_data, created_at, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6)`, s.paymentRequestTableName),
		request.ID, request.PaymentID, request.HandlerURL, nullRawJSON(request.ExtraData), request.CreatedAt, nullTimePtr(request.ProcessedAt),
	)
	if err != nil {
		return fmt.Errorf("insert payment request: %w", err)
	}

	return tx.Commit()
}

// GetPayment looks up a Payment by its internal id.
func (s *PostgresStore) GetPayment(ctx context.Context, id string) (Payment, error) {
	defer metrics.MeasureDBQuery(s.metrics, "get_payment")()

	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, external_id, user_id, created_at, amount_value, currency, status, external_cancellation_reason
		FROM %s WHERE id = $1`, s.paymentTableName), id)
	return scanPayment(row)
}

// GetPaymentByExternalID looks up a Payment by the provider's id.
func (s *PostgresStore) GetPaymentByExternalID(ctx context.Context, externalID string) (Payment, error) {
	defer metrics.MeasureDBQuery(s.metrics, "get_payment_by_external_id")()

	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, external_id, user_id, created_at, amount_value, currency, status, external_cancellation_reason
		FROM %s WHERE external_id = $1`, s.paymentTableName), externalID)
	return scanPayment(row)
}

func scanPayment(s scanner) (Payment, error) {
	var p Payment
	var reason sql.NullString
	err := s.Scan(&p.ID, &p.ExternalID, &p.UserID, &p.CreatedAt, &p.AmountValue, &p.Currency, &p.Status, &reason)
	if err == sql.ErrNoRows {
		return Payment{}, ErrNotFound
	}
	if err != nil {
		return Payment{}, err
	}
	if reason.Valid {
		p.ExternalCancellationReason = &reason.String
	}
	return p, nil
}

// CreateRefund inserts a Refund and its RefundRequest in one transaction.
func (s *PostgresStore) CreateRefund(ctx context.Context, refund Refund, request RefundRequest) error {
	defer metrics.MeasureDBQuery(s.metrics, "create_refund")()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, payment_id, external_id, created_at, status, external_cancellation_reason, amount_value, currency)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, s.refundTableName),
		refund.ID, refund.PaymentID, refund.ExternalID, refund.CreatedAt, refund.Status,
		refund.ExternalCancellationReason, refund.AmountValue, refund.Currency,
	)
	if err != nil {
		return fmt.Errorf("insert refund: %w", err)
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, refund_id, handler_url, extra_data, created_at, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6)`, s.refundRequestTableName),
		request.ID, request.RefundID, request.HandlerURL, nullRawJSON(request.ExtraData), request.CreatedAt, nullTimePtr(request.ProcessedAt),
	)
	if err != nil {
		return fmt.Errorf("insert refund request: %w", err)
	}

	return tx.Commit()
}

// GetRefund looks up a Refund by its internal id.
func (s *PostgresStore) GetRefund(ctx context.Context, id string) (Refund, error) {
	defer metrics.MeasureDBQuery(s.metrics, "get_refund")()

	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, payment_id, external_id, created_at, status, external_cancellation_reason, amount_value, currency
		FROM %s WHERE id = $1`, s.refundTableName), id)
	return scanRefund(row)
}

func scanRefund(s scanner) (Refund, error) {
	var r Refund
	var externalID, reason sql.NullString
	err := s.Scan(&r.ID, &r.PaymentID, &externalID, &r.CreatedAt, &r.Status, &reason, &r.AmountValue, &r.Currency)
	if err == sql.ErrNoRows {
		return Refund{}, ErrNotFound
	}
	if err != nil {
		return Refund{}, err
	}
	if externalID.Valid {
		r.ExternalID = &externalID.String
	}
	if reason.Valid {
		r.ExternalCancellationReason = &reason.String
	}
	return r, nil
}

// ClaimPaymentRequest locks the oldest claimable PaymentRequest and its Payment.
func (s *PostgresStore) ClaimPaymentRequest(ctx context.Context, olderThan time.Duration) (*PaymentClaim, error) {
	defer metrics.MeasureDBQuery(s.metrics, "claim_payment_request")()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	row := tx.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, payment_id, handler_url, extra_data, created_at, processed_at
		FROM %s
		WHERE processed_at IS NULL OR processed_at <= $1
		ORDER BY processed_at ASC NULLS FIRST
		LIMIT 1
		FOR UPDATE SKIP LOCKED`, s.paymentRequestTableName),
		time.Now().UTC().Add(-olderThan))

	req, err := scanPaymentRequest(row)
	if err == sql.ErrNoRows {
		committed = true
		tx.Commit()
		return nil, ErrNoWork
	}
	if err != nil {
		return nil, fmt.Errorf("claim payment request: %w", err)
	}

	paymentRow := tx.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, external_id, user_id, created_at, amount_value, currency, status, external_cancellation_reason
		FROM %s WHERE id = $1
		FOR UPDATE`, s.paymentTableName), req.PaymentID)
	payment, err := scanPayment(paymentRow)
	if err != nil {
		return nil, fmt.Errorf("load claimed payment: %w", err)
	}

	claim := &PaymentClaim{Request: req, Payment: payment}
	claim.commit = func(ctx context.Context, status PaymentStatus, cancellationReason *string, notification *HandlerNotificationRequest) error {
		defer tx.Rollback()
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
			UPDATE %s SET status = $1, external_cancellation_reason = $2 WHERE id = $3`, s.paymentTableName),
			status, cancellationReason, payment.ID); err != nil {
			return fmt.Errorf("update payment: %w", err)
		}
		if notification != nil {
			if err := insertNotification(ctx, tx, s.handlerNotificationTableName, *notification); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.paymentRequestTableName), req.ID); err != nil {
			return fmt.Errorf("delete payment request: %w", err)
		}
		return tx.Commit()
	}
	claim.release = func(ctx context.Context) error {
		defer tx.Rollback()
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET processed_at = $1 WHERE id = $2`, s.paymentRequestTableName),
			time.Now().UTC(), req.ID); err != nil {
			return fmt.Errorf("release payment request: %w", err)
		}
		return tx.Commit()
	}
	committed = true // the claim's Commit or Release now owns tx
	return claim, nil
}

func scanPaymentRequest(s scanner) (PaymentRequest, error) {
	var r PaymentRequest
	var handlerURL sql.NullString
	var extraData []byte
	var processedAt sql.NullTime
	err := s.Scan(&r.ID, &r.PaymentID, &handlerURL, &extraData, &r.CreatedAt, &processedAt)
	if err != nil {
		return PaymentRequest{}, err
	}
	if handlerURL.Valid {
		r.HandlerURL = &handlerURL.String
	}
	if len(extraData) > 0 {
		r.ExtraData = RawJSON(extraData)
	}
	if processedAt.Valid {
		r.ProcessedAt = &processedAt.Time
	}
	return r, nil
}

// ClaimRefundRequest locks the oldest claimable RefundRequest and reads its
// Refund and the Refund's parent Payment in the same transaction.
func (s *PostgresStore) ClaimRefundRequest(ctx context.Context, olderThan time.Duration) (*RefundClaim, error) {
	defer metrics.MeasureDBQuery(s.metrics, "claim_refund_request")()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	row := tx.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, refund_id, handler_url, extra_data, created_at, processed_at
		FROM %s
		WHERE processed_at IS NULL OR processed_at <= $1
		ORDER BY processed_at ASC NULLS FIRST
		LIMIT 1
		FOR UPDATE SKIP LOCKED`, s.refundRequestTableName),
		time.Now().UTC().Add(-olderThan))

	req, err := scanRefundRequest(row)
	if err == sql.ErrNoRows {
		committed = true
		tx.Commit()
		return nil, ErrNoWork
	}
	if err != nil {
		return nil, fmt.Errorf("claim refund request: %w", err)
	}

	refundRow := tx.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, payment_id, external_id, created_at, status, external_cancellation_reason, amount_value, currency
		FROM %s WHERE id = $1`, s.refundTableName), req.RefundID)
	refund, err := scanRefund(refundRow)
	if err != nil {
		return nil, fmt.Errorf("load claimed refund: %w", err)
	}

	paymentRow := tx.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, external_id, user_id, created_at, amount_value, currency, status, external_cancellation_reason
		FROM %s WHERE id = $1`, s.paymentTableName), refund.PaymentID)
	payment, err := scanPayment(paymentRow)
	if err != nil {
		return nil, fmt.Errorf("load refund's parent payment: %w", err)
	}

	claim := &RefundClaim{Request: req, Refund: refund, Payment: payment}
	claim.commit = func(ctx context.Context, status PaymentStatus, externalID *string, cancellationReason *string, notification *HandlerNotificationRequest) error {
		defer tx.Rollback()
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
			UPDATE %s SET status = $1, external_id = $2, external_cancellation_reason = $3 WHERE id = $4`, s.refundTableName),
			status, externalID, cancellationReason, refund.ID); err != nil {
			return fmt.Errorf("update refund: %w", err)
		}
		if notification != nil {
			if err := insertNotification(ctx, tx, s.handlerNotificationTableName, *notification); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.refundRequestTableName), req.ID); err != nil {
			return fmt.Errorf("delete refund request: %w", err)
		}
		return tx.Commit()
	}
	claim.release = func(ctx context.Context) error {
		defer tx.Rollback()
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET processed_at = $1 WHERE id = $2`, s.refundRequestTableName),
			time.Now().UTC(), req.ID); err != nil {
			return fmt.Errorf("release refund request: %w", err)
		}
		return tx.Commit()
	}
	committed = true // the claim's Commit or Release now owns tx
	return claim, nil
}

func scanRefundRequest(s scanner) (RefundRequest, error) {
	var r RefundRequest
	var handlerURL sql.NullString
	var extraData []byte
	var processedAt sql.NullTime
	err := s.Scan(&r.ID, &r.RefundID, &handlerURL, &extraData, &r.CreatedAt, &processedAt)
	if err != nil {
		return RefundRequest{}, err
	}
	if handlerURL.Valid {
		r.HandlerURL = &handlerURL.String
	}
	if len(extraData) > 0 {
		r.ExtraData = RawJSON(extraData)
	}
	if processedAt.Valid {
		r.ProcessedAt = &processedAt.Time
	}
	return r, nil
}

// ClaimNotificationRequest locks the oldest claimable HandlerNotificationRequest.
func (s *PostgresStore) ClaimNotificationRequest(ctx context.Context, olderThan time.Duration) (*NotificationClaim, error) {
	defer metrics.MeasureDBQuery(s.metrics, "claim_notification_request")()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	row := tx.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, created_at, processed_at, handler_url, data
		FROM %s
		WHERE processed_at IS NULL OR processed_at <= $1
		ORDER BY processed_at ASC NULLS FIRST
		LIMIT 1
		FOR UPDATE SKIP LOCKED`, s.handlerNotificationTableName),
		time.Now().UTC().Add(-olderThan))

	req, err := scanNotificationRequest(row)
	if err == sql.ErrNoRows {
		committed = true
		tx.Commit()
		return nil, ErrNoWork
	}
	if err != nil {
		return nil, fmt.Errorf("claim notification request: %w", err)
	}

	claim := &NotificationClaim{Request: req}
	claim.commit = func(ctx context.Context) error {
		defer tx.Rollback()
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.handlerNotificationTableName), req.ID); err != nil {
			return fmt.Errorf("delete notification request: %w", err)
		}
		return tx.Commit()
	}
	claim.release = func(ctx context.Context) error {
		defer tx.Rollback()
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET processed_at = $1 WHERE id = $2`, s.handlerNotificationTableName),
			time.Now().UTC(), req.ID); err != nil {
			return fmt.Errorf("release notification request: %w", err)
		}
		return tx.Commit()
	}
	committed = true // the claim's Commit or Release now owns tx
	return claim, nil
}

func scanNotificationRequest(s scanner) (HandlerNotificationRequest, error) {
	var r HandlerNotificationRequest
	var processedAt sql.NullTime
	var data []byte
	err := s.Scan(&r.ID, &r.CreatedAt, &processedAt, &r.HandlerURL, &data)
	if err != nil {
		return HandlerNotificationRequest{}, err
	}
	if processedAt.Valid {
		r.ProcessedAt = &processedAt.Time
	}
	r.Data = RawJSON(data)
	return r, nil
}

func insertNotification(ctx context.Context, tx *sql.Tx, tableName string, req HandlerNotificationRequest) error {
	_, err := tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, created_at, processed_at, handler_url, data)
		VALUES ($1, $2, $3, $4, $5)`, tableName),
		req.ID, req.CreatedAt, nullTimePtr(req.ProcessedAt), req.HandlerURL, []byte(req.Data),
	)
	if err != nil {
		return fmt.Errorf("insert notification request: %w", err)
	}
	return nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// nullTimePtr converts a *time.Time to sql.NullTime.
func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{Valid: false}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// nullRawJSON converts a possibly-empty RawJSON to a value usable by the
// driver, keeping NULL for an absent value rather than storing "null".
func nullRawJSON(r RawJSON) interface{} {
	if len(r) == 0 {
		return nil
	}
	return []byte(r)
}
