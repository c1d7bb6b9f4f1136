package repo

import (
	"context"
	"fmt"
	"strings"

	"archgen/internal/domain"
	"archgen/internal/infra"
	"archgen/internal/sqlinline"
)

// CreditLedgerPG implements domain.CreditLedger over users.credits and
// usage_logs.
type CreditLedgerPG struct {
	db     infra.SQLExecutor
	logger infra.Logger
}

func NewCreditLedger(db infra.SQLExecutor, logger infra.Logger) *CreditLedgerPG {
	return &CreditLedgerPG{db: db, logger: logger}
}

func (l *CreditLedgerPG) Balance(ctx context.Context, userID string) (int, error) {
	var credits int
	if err := l.db.QueryRow(ctx, sqlinline.QSelectUserCredits, userID).Scan(&credits); err != nil {
		if infra.IsNoRows(err) {
			return 0, domain.ErrNotFound
		}
		return 0, fmt.Errorf("load balance: %w", err)
	}
	return credits, nil
}

// Deduct debits amount and returns the usage log id of the deduction.
func (l *CreditLedgerPG) Deduct(ctx context.Context, userID string, amount int, description string) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("%w: deduction must be positive", domain.ErrInvalidRequest)
	}
	var usageLogID string
	err := l.db.QueryRow(ctx, sqlinline.QDeductCredits, userID, amount, description).Scan(&usageLogID)
	if err != nil {
		if infra.IsNoRows(err) {
			return "", domain.ErrInsufficientCredits
		}
		return "", fmt.Errorf("deduct credits: %w", err)
	}
	l.logger.Info().
		Str("user_id", userID).
		Str("usage_log_id", usageLogID).
		Int("amount", amount).
		Msg("credits deducted")
	return usageLogID, nil
}

// Refund returns amount to userID for the given deduction. A deduction is
// refunded at most once; repeated calls fail with domain.ErrAlreadyRefunded.
func (l *CreditLedgerPG) Refund(ctx context.Context, userID string, amount int, description, usageLogID string) error {
	if strings.TrimSpace(usageLogID) == "" {
		return fmt.Errorf("%w: usage log id is required", domain.ErrInvalidRequest)
	}
	if amount <= 0 {
		return fmt.Errorf("%w: refund must be positive", domain.ErrInvalidRequest)
	}
	var refunded int
	err := l.db.QueryRow(ctx, sqlinline.QRefundCredits, usageLogID, userID, amount, description).Scan(&refunded)
	if err != nil {
		if infra.IsNoRows(err) {
			return domain.ErrAlreadyRefunded
		}
		return fmt.Errorf("refund credits: %w", err)
	}
	l.logger.Info().
		Str("user_id", userID).
		Str("usage_log_id", usageLogID).
		Int("amount", refunded).
		Str("reason", description).
		Msg("credits refunded")
	return nil
}

var _ domain.CreditLedger = (*CreditLedgerPG)(nil)

// Grant adds amount to userID's balance and returns the new balance.
func (l *CreditLedgerPG) Grant(ctx context.Context, userID string, amount int) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: grant must be positive", domain.ErrInvalidRequest)
	}
	var balance int
	if err := l.db.QueryRow(ctx, sqlinline.QGrantCredits, userID, amount).Scan(&balance); err != nil {
		if infra.IsNoRows(err) {
			return 0, domain.ErrNotFound
		}
		return 0, fmt.Errorf("grant credits: %w", err)
	}
	l.logger.Info().Str("user_id", userID).Int("amount", amount).Int("balance", balance).Msg("credits granted")
	return balance, nil
}

// UsageLog loads one deduction, including whether it was refunded.
func (l *CreditLedgerPG) UsageLog(ctx context.Context, usageLogID string) (*domain.UsageLog, error) {
	var log domain.UsageLog
	err := l.db.QueryRow(ctx, sqlinline.QSelectUsageLog, usageLogID).Scan(
		&log.ID, &log.UserID, &log.Amount, &log.Description, &log.RefundedAt, &log.CreatedAt,
	)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("load usage log: %w", err)
	}
	return &log, nil
}
