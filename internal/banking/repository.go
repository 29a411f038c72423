package banking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// GetTokenSet loads the provider credentials embedded in the user record.
func (r *Repository) GetTokenSet(ctx context.Context, userID int64) (TokenSet, error) {
	var accessToken, refreshToken, userSeqNo sql.NullString
	var expiresAt sql.NullTime

	err := r.db.QueryRowContext(ctx, `
		SELECT access_token, refresh_token, user_seq_no, token_expires_at
		FROM users
		WHERE id = $1
	`, userID).Scan(&accessToken, &refreshToken, &userSeqNo, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return TokenSet{}, ErrUserNotFound
		}
		return TokenSet{}, fmt.Errorf("query token set: %w", err)
	}

	set := TokenSet{
		AccessToken:  accessToken.String,
		RefreshToken: refreshToken.String,
		UserSeqNo:    userSeqNo.String,
	}
	if expiresAt.Valid {
		set.ExpiresAt = expiresAt.Time.UTC()
	}

	return set, nil
}

// ReplaceTokenSet overwrites the stored token set in a single UPDATE so a
// concurrent reader never observes a partially-applied set.
func (r *Repository) ReplaceTokenSet(ctx context.Context, userID int64, set TokenSet) error {
	var expiresAt any
	if !set.ExpiresAt.IsZero() {
		expiresAt = set.ExpiresAt.UTC()
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET access_token = $2, refresh_token = $3, user_seq_no = $4, token_expires_at = $5, updated_at = $6
		WHERE id = $1
	`, userID, nullableString(set.AccessToken), nullableString(set.RefreshToken), nullableString(set.UserSeqNo), expiresAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("replace token set: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("token set rows affected: %w", err)
	}
	if affected == 0 {
		return ErrUserNotFound
	}

	return nil
}

// SaveBatchResult reports the outcome of one per-account batch commit.
type SaveBatchResult struct {
	AccountID *string
	// Inserted holds, per input transaction, whether a new row was created.
	// False means the dedup key already existed and nothing changed.
	Inserted []bool
	// IDs holds the row id per input transaction; empty for duplicates.
	IDs []string
}

// SaveBatch commits one account's batch atomically: the account row is
// upserted by its natural key first so every transaction references a valid
// account id, then transactions are inserted with conflict-ignore on
// (user_id, provider_transaction_id). account may be nil for push-mode
// batches that reference no account.
func (r *Repository) SaveBatch(ctx context.Context, userID int64, account *AccountInput, txns []Transaction) (SaveBatchResult, error) {
	result := SaveBatchResult{
		Inserted: make([]bool, len(txns)),
		IDs:      make([]string, len(txns)),
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return SaveBatchResult{}, fmt.Errorf("begin batch tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	var accountID *string
	if account != nil {
		id, err := uuid.NewV7()
		if err != nil {
			return SaveBatchResult{}, fmt.Errorf("generate account id: %w", err)
		}

		var storedID string
		err = tx.QueryRowContext(ctx, `
			INSERT INTO bank_accounts (id, user_id, bank_name, account_num, balance, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $6)
			ON CONFLICT (user_id, account_num)
			DO UPDATE SET
				bank_name = EXCLUDED.bank_name,
				balance = EXCLUDED.balance,
				updated_at = EXCLUDED.updated_at
			RETURNING id
		`, id.String(), userID, account.BankName, account.AccountNum, account.Balance, now).Scan(&storedID)
		if err != nil {
			return SaveBatchResult{}, fmt.Errorf("upsert bank account: %w", err)
		}
		accountID = &storedID
	}
	result.AccountID = accountID

	for i := range txns {
		id, err := uuid.NewV7()
		if err != nil {
			return SaveBatchResult{}, fmt.Errorf("generate transaction id: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO transactions (
				id, user_id, account_id, provider_transaction_id, transacted_at,
				original_content, amount, balance_after, type, method, store_name,
				category, is_excluded, memo, created_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			ON CONFLICT (user_id, provider_transaction_id) DO NOTHING
		`, id.String(), userID, accountID, txns[i].ProviderTransactionID, txns[i].TransactedAt,
			nullableString(txns[i].OriginalContent), txns[i].Amount, txns[i].BalanceAfter,
			string(txns[i].Type), nullableString(txns[i].Method), nullableString(txns[i].StoreName),
			nullableString(txns[i].Category), txns[i].IsExcluded, nullableString(txns[i].Memo), now)
		if err != nil {
			return SaveBatchResult{}, fmt.Errorf("insert transaction: %w", err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return SaveBatchResult{}, fmt.Errorf("transaction rows affected: %w", err)
		}
		if affected > 0 {
			result.Inserted[i] = true
			result.IDs[i] = id.String()
		}
	}

	if err := tx.Commit(); err != nil {
		return SaveBatchResult{}, fmt.Errorf("commit batch tx: %w", err)
	}

	return result, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
