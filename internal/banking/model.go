// Package banking implements the bank-account connection subsystem: the
// authorization-code handshake, the per-user token lifecycle, and the
// idempotent ingestion of provider transactions.
package banking

import (
	"errors"
	"time"
)

// TimestampLayout is the normalized local-time form stored for transactions.
const TimestampLayout = "2006-01-02T15:04:05"

type TransactionType string

const (
	TypeDeposit  TransactionType = "DEPOSIT"
	TypeWithdraw TransactionType = "WITHDRAW"
)

var (
	ErrUserNotFound           = errors.New("user not found")
	ErrRefreshTokenMissing    = errors.New("no refresh token stored")
	ErrRefreshResponseInvalid = errors.New("refresh response missing access token")
	ErrExchangeInvalid        = errors.New("exchange response missing access token")
	ErrInvalidState           = errors.New("invalid or expired state")
)

// TokenSet is the provider credential set embedded in the user record. A
// zero ExpiresAt means the expiry is unknown.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	UserSeqNo    string
	ExpiresAt    time.Time
}

type BankAccount struct {
	ID         string
	UserID     int64
	BankName   string
	AccountNum string
	Balance    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Transaction struct {
	ID                    string
	UserID                int64
	AccountID             *string
	ProviderTransactionID string
	TransactedAt          time.Time
	OriginalContent       string
	Amount                int64
	BalanceAfter          *int64
	Type                  TransactionType
	Method                string
	StoreName             string
	Category              string
	IsExcluded            bool
	Memo                  string
}

// RawTransaction is the provider-shaped input to the ingestion pipeline.
// Client-submitted batches may instead carry the pre-normalized fields
// (TransactedAt, Type), which take precedence when set.
type RawTransaction struct {
	TranID       string
	TranDate     string
	TranTime     string
	Content      string
	Amount       int64
	BalanceAfter *int64
	InoutType    string

	TransactedAt string
	Type         string
	Method       string
	StoreName    string
	Memo         string
}

// ClientTransaction is the push-mode wire shape accepted on connect.
type ClientTransaction struct {
	ProviderTransactionID string `json:"providerTransactionId"`
	TranID                string `json:"tranId"`
	TranDate              string `json:"tranDate"`
	TranTime              string `json:"tranTime"`
	TransactedAt          string `json:"transactedAt"`
	PrintedContent        string `json:"printedContent"`
	Amount                int64  `json:"amount"`
	BalanceAfter          *int64 `json:"balanceAfter"`
	InOutType             string `json:"inOutType"`
	Type                  string `json:"type"`
	Method                string `json:"method"`
	StoreName             string `json:"storeName"`
	Memo                  string `json:"memo"`
}

// TransactionSummary is what connect reports back per ingested record.
// Created is false when the dedup key already existed and the row was left
// untouched.
type TransactionSummary struct {
	ID                    string          `json:"id,omitempty"`
	ProviderTransactionID string          `json:"providerTransactionId"`
	TransactedAt          string          `json:"transactedAt"`
	Amount                int64           `json:"amount"`
	Type                  TransactionType `json:"type"`
	BalanceAfter          *int64          `json:"balanceAfter,omitempty"`
	Content               string          `json:"content,omitempty"`
	Created               bool            `json:"created"`
}

// AccountInput is the natural-key payload for an account upsert.
type AccountInput struct {
	BankName   string
	AccountNum string
	Balance    int64
}
