package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	userInfoPath        = "/v2.0/user/me"
	accountListPath     = "/v2.0/account/list"
	transactionListPath = "/v2.0/account/transaction_list"

	// DateLayout is the provider's native date form (YYYYMMDD).
	DateLayout = "20060102"
)

// ProviderError reports a non-2xx response from a data endpoint.
type ProviderError struct {
	Status int
	Body   string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider request failed with status %d", e.Status)
}

// ParseError reports a malformed JSON body from a data endpoint.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s response: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

type UserInfo struct {
	UserSeqNo string `json:"user_seq_no"`
	UserName  string `json:"user_name"`
	UserEmail string `json:"user_email"`
}

type AccountRecord struct {
	FintechUseNum    string `json:"fintech_use_num"`
	AccountAlias     string `json:"account_alias"`
	BankName         string `json:"bank_name"`
	AccountNumMasked string `json:"account_num_masked"`
	AccountHolder    string `json:"account_holder_name"`
}

// TransactionRecord is a raw provider transaction. Amounts arrive as decimal
// strings of whole won; tran_id is absent on some banks.
type TransactionRecord struct {
	TranDate        string `json:"tran_date"`
	TranTime        string `json:"tran_time"`
	InoutType       string `json:"inout_type"`
	TranType        string `json:"tran_type"`
	PrintContent    string `json:"print_content"`
	TranAmt         string `json:"tran_amt"`
	AfterBalanceAmt string `json:"after_balance_amt"`
	TranID          string `json:"tran_id"`
	BranchName      string `json:"branch_name"`
}

type accountListResponse struct {
	RspCode    string          `json:"rsp_code"`
	RspMessage string          `json:"rsp_message"`
	ResList    []AccountRecord `json:"res_list"`
}

type transactionListResponse struct {
	RspCode    string              `json:"rsp_code"`
	RspMessage string              `json:"rsp_message"`
	BalanceAmt string              `json:"balance_amt"`
	ResList    []TransactionRecord `json:"res_list"`
}

// DataClient performs the provider's read-only calls. Every call requires a
// valid bearer token obtained through the token lifecycle manager.
type DataClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewDataClient(cfg Config) *DataClient {
	return &DataClient{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: defaultHTTPTimeout,
		},
	}
}

func (c *DataClient) GetUserInfo(ctx context.Context, accessToken, userSeqNo string) (UserInfo, error) {
	query := url.Values{}
	if userSeqNo != "" {
		query.Set("user_seq_no", userSeqNo)
	}

	body, err := c.get(ctx, userInfoPath, query, accessToken)
	if err != nil {
		return UserInfo{}, err
	}

	var parsed UserInfo
	if err := json.Unmarshal(body, &parsed); err != nil {
		return UserInfo{}, &ParseError{Path: userInfoPath, Err: err}
	}

	return parsed, nil
}

func (c *DataClient) ListAccounts(ctx context.Context, accessToken, userSeqNo string) ([]AccountRecord, error) {
	query := url.Values{}
	query.Set("include_cancel_yn", "N")
	query.Set("sort_order", "D")
	if userSeqNo != "" {
		query.Set("user_seq_no", userSeqNo)
	}

	body, err := c.get(ctx, accountListPath, query, accessToken)
	if err != nil {
		return nil, err
	}

	var parsed accountListResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &ParseError{Path: accountListPath, Err: err}
	}

	return parsed.ResList, nil
}

// ListTransactions fetches the history for one account key, newest first.
// Empty dates default to the last month ending today.
func (c *DataClient) ListTransactions(ctx context.Context, accessToken, accountKey, fromDate, toDate string) ([]TransactionRecord, error) {
	now := time.Now().UTC()
	if toDate == "" {
		toDate = now.Format(DateLayout)
	}
	if fromDate == "" {
		fromDate = now.AddDate(0, -1, 0).Format(DateLayout)
	}

	query := url.Values{}
	query.Set("fintech_use_num", accountKey)
	query.Set("inquiry_type", "A")
	query.Set("inquiry_base", "D")
	query.Set("from_date", fromDate)
	query.Set("to_date", toDate)
	query.Set("sort_order", "D")

	body, err := c.get(ctx, transactionListPath, query, accessToken)
	if err != nil {
		return nil, err
	}

	var parsed transactionListResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &ParseError{Path: transactionListPath, Err: err}
	}

	return parsed.ResList, nil
}

func (c *DataClient) get(ctx context.Context, path string, query url.Values, accessToken string) ([]byte, error) {
	endpoint := c.baseURL + path
	if encoded := query.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ProviderError{Status: resp.StatusCode, Body: string(body)}
	}

	return body, nil
}
