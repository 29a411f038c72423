package banking

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"finlink/internal/provider"
)

// depositMarker is the provider's native flag for inbound transactions.
// Anything else maps to WITHDRAW.
const depositMarker = "입금"

// BatchStore commits one account's normalized batch atomically.
type BatchStore interface {
	SaveBatch(ctx context.Context, userID int64, account *AccountInput, txns []Transaction) (SaveBatchResult, error)
}

// Pipeline normalizes raw provider transactions (or client-submitted ones in
// the same shape) and commits them without duplication. Re-ingesting known
// data is a silent no-op, not an error.
type Pipeline struct {
	store BatchStore
}

func NewPipeline(store BatchStore) *Pipeline {
	return &Pipeline{store: store}
}

// IngestResult reports one committed batch. Errors holds per-record
// normalization failures; those records are skipped, the rest commit.
type IngestResult struct {
	Transactions []TransactionSummary
	Created      int
	Duplicates   int
	Errors       []string
}

// IngestProviderBatch normalizes and commits one account's fetched history.
// The account row is upserted first; its balance is seeded from the newest
// record's after-balance when present (provider sort is newest-first).
func (p *Pipeline) IngestProviderBatch(ctx context.Context, userID int64, account AccountInput, records []provider.TransactionRecord) (IngestResult, error) {
	raws := make([]RawTransaction, 0, len(records))
	var errs []string
	for _, record := range records {
		raw, err := rawFromProvider(record)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		raws = append(raws, raw)
	}

	if account.Balance == 0 {
		for _, raw := range raws {
			if raw.BalanceAfter != nil {
				account.Balance = *raw.BalanceAfter
				break
			}
		}
	}

	result, err := p.ingest(ctx, userID, &account, raws)
	if err != nil {
		return IngestResult{}, err
	}
	result.Errors = append(errs, result.Errors...)

	return result, nil
}

// IngestClientBatch commits a caller-supplied batch. No account row is
// touched; the transactions carry no account reference.
func (p *Pipeline) IngestClientBatch(ctx context.Context, userID int64, txns []ClientTransaction) (IngestResult, error) {
	raws := make([]RawTransaction, 0, len(txns))
	for _, t := range txns {
		raws = append(raws, rawFromClient(t))
	}

	return p.ingest(ctx, userID, nil, raws)
}

func (p *Pipeline) ingest(ctx context.Context, userID int64, account *AccountInput, raws []RawTransaction) (IngestResult, error) {
	var result IngestResult

	normalized := make([]Transaction, 0, len(raws))
	for _, raw := range raws {
		txn, err := normalize(userID, raw)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		normalized = append(normalized, txn)
	}

	saved, err := p.store.SaveBatch(ctx, userID, account, normalized)
	if err != nil {
		return IngestResult{}, err
	}

	for i := range normalized {
		summary := TransactionSummary{
			ProviderTransactionID: normalized[i].ProviderTransactionID,
			TransactedAt:          normalized[i].TransactedAt.Format(TimestampLayout),
			Amount:                normalized[i].Amount,
			Type:                  normalized[i].Type,
			BalanceAfter:          normalized[i].BalanceAfter,
			Content:               normalized[i].OriginalContent,
		}
		if saved.Inserted[i] {
			summary.ID = saved.IDs[i]
			summary.Created = true
			result.Created++
		} else {
			result.Duplicates++
		}
		result.Transactions = append(result.Transactions, summary)
	}

	return result, nil
}

// normalize turns one raw record into a storable row. The dedup key is the
// provider's transaction id when present; otherwise a deterministic digest
// of (timestamp, content, amount). Two genuinely distinct transactions that
// agree on all three collide under the fallback and the second is silently
// dropped, a known limitation of providers that omit transaction ids.
func normalize(userID int64, raw RawTransaction) (Transaction, error) {
	composed := raw.TransactedAt
	if composed == "" {
		var err error
		composed, err = composeTimestamp(raw.TranDate, raw.TranTime)
		if err != nil {
			return Transaction{}, err
		}
	}

	transactedAt, err := parseTimestamp(composed)
	if err != nil {
		return Transaction{}, err
	}

	key := raw.TranID
	if key == "" {
		key = fallbackDedupKey(transactedAt.Format(TimestampLayout), raw.Content, raw.Amount)
	}

	return Transaction{
		UserID:                userID,
		ProviderTransactionID: key,
		TransactedAt:          transactedAt,
		OriginalContent:       raw.Content,
		Amount:                raw.Amount,
		BalanceAfter:          raw.BalanceAfter,
		Type:                  direction(raw),
		Method:                raw.Method,
		StoreName:             raw.StoreName,
		Memo:                  raw.Memo,
	}, nil
}

func direction(raw RawTransaction) TransactionType {
	switch TransactionType(raw.Type) {
	case TypeDeposit, TypeWithdraw:
		return TransactionType(raw.Type)
	}
	if raw.InoutType == depositMarker {
		return TypeDeposit
	}
	return TypeWithdraw
}

// composeTimestamp builds YYYY-MM-DDTHH:MM:SS from the provider's date and
// time fields, zero-padding missing time parts.
func composeTimestamp(date, timeOfDay string) (string, error) {
	date = strings.TrimSpace(date)
	if len(date) != 8 {
		return "", fmt.Errorf("invalid transaction date %q", date)
	}

	timeOfDay = strings.TrimSpace(timeOfDay)
	if len(timeOfDay) > 6 {
		timeOfDay = timeOfDay[:6]
	}
	timeOfDay += strings.Repeat("0", 6-len(timeOfDay))

	return fmt.Sprintf("%s-%s-%sT%s:%s:%s",
		date[0:4], date[4:6], date[6:8],
		timeOfDay[0:2], timeOfDay[2:4], timeOfDay[4:6],
	), nil
}

func parseTimestamp(value string) (time.Time, error) {
	if parsed, err := time.Parse(TimestampLayout, value); err == nil {
		return parsed, nil
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid transaction timestamp %q", value)
	}
	return parsed, nil
}

func fallbackDedupKey(timestamp, content string, amount int64) string {
	sum := sha256.Sum256([]byte(timestamp + "|" + content + "|" + strconv.FormatInt(amount, 10)))
	return hex.EncodeToString(sum[:])
}

func rawFromProvider(record provider.TransactionRecord) (RawTransaction, error) {
	amount, err := parseAmount(record.TranAmt)
	if err != nil {
		return RawTransaction{}, fmt.Errorf("transaction on %s: %w", record.TranDate, err)
	}

	raw := RawTransaction{
		TranID:    record.TranID,
		TranDate:  record.TranDate,
		TranTime:  record.TranTime,
		Content:   record.PrintContent,
		Amount:    amount,
		InoutType: record.InoutType,
		Method:    record.TranType,
	}
	if record.AfterBalanceAmt != "" {
		balance, err := parseAmount(record.AfterBalanceAmt)
		if err != nil {
			return RawTransaction{}, fmt.Errorf("transaction on %s: %w", record.TranDate, err)
		}
		raw.BalanceAfter = &balance
	}

	return raw, nil
}

func rawFromClient(t ClientTransaction) RawTransaction {
	tranID := t.ProviderTransactionID
	if tranID == "" {
		tranID = t.TranID
	}

	return RawTransaction{
		TranID:       tranID,
		TranDate:     t.TranDate,
		TranTime:     t.TranTime,
		Content:      t.PrintedContent,
		Amount:       t.Amount,
		BalanceAfter: t.BalanceAfter,
		InoutType:    t.InOutType,
		TransactedAt: t.TransactedAt,
		Type:         t.Type,
		Method:       t.Method,
		StoreName:    t.StoreName,
		Memo:         t.Memo,
	}
}

func parseAmount(value string) (int64, error) {
	amount, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", value)
	}
	return amount, nil
}
