package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListTransactionsParsesRecords(t *testing.T) {
	var gotQuery map[string]string
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, transactionListPath, r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		gotQuery = map[string]string{
			"fintech_use_num": r.URL.Query().Get("fintech_use_num"),
			"from_date":       r.URL.Query().Get("from_date"),
			"to_date":         r.URL.Query().Get("to_date"),
			"sort_order":      r.URL.Query().Get("sort_order"),
		}

		_, _ = w.Write([]byte(`{
			"rsp_code": "A0000",
			"res_list": [
				{
					"tran_date": "20240102",
					"tran_time": "093011",
					"inout_type": "입금",
					"print_content": "SALARY",
					"tran_amt": "2500000",
					"after_balance_amt": "3100000",
					"tran_id": "P100"
				},
				{
					"tran_date": "20240101",
					"tran_time": "120000",
					"inout_type": "출금",
					"print_content": "COFFEE",
					"tran_amt": "4500",
					"after_balance_amt": "600000"
				}
			]
		}`))
	}))
	defer server.Close()

	client := NewDataClient(testConfig(server.URL))
	records, err := client.ListTransactions(context.Background(), "T1", "120000000001", "20240101", "20240131")
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "Bearer T1", gotAuth)
	assert.Equal(t, "120000000001", gotQuery["fintech_use_num"])
	assert.Equal(t, "20240101", gotQuery["from_date"])
	assert.Equal(t, "20240131", gotQuery["to_date"])
	assert.Equal(t, "D", gotQuery["sort_order"])

	assert.Equal(t, "P100", records[0].TranID)
	assert.Equal(t, "입금", records[0].InoutType)
	assert.Equal(t, "2500000", records[0].TranAmt)
	assert.Empty(t, records[1].TranID)
}

func TestListTransactionsDefaultsDateRange(t *testing.T) {
	var from, to string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		from = r.URL.Query().Get("from_date")
		to = r.URL.Query().Get("to_date")
		_, _ = w.Write([]byte(`{"rsp_code":"A0000","res_list":[]}`))
	}))
	defer server.Close()

	client := NewDataClient(testConfig(server.URL))
	_, err := client.ListTransactions(context.Background(), "T1", "120000000001", "", "")
	require.NoError(t, err)

	require.Len(t, from, 8)
	require.Len(t, to, 8)
	assert.Less(t, from, to)
}

func TestListAccounts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, accountListPath, r.URL.Path)
		require.Equal(t, "1100012345", r.URL.Query().Get("user_seq_no"))
		_, _ = w.Write([]byte(`{
			"rsp_code": "A0000",
			"res_list": [
				{
					"fintech_use_num": "120000000001",
					"bank_name": "국민은행",
					"account_num_masked": "1234-56-***-789",
					"account_holder_name": "홍길동"
				}
			]
		}`))
	}))
	defer server.Close()

	client := NewDataClient(testConfig(server.URL))
	accounts, err := client.ListAccounts(context.Background(), "T1", "1100012345")
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "국민은행", accounts[0].BankName)
	assert.Equal(t, "120000000001", accounts[0].FintechUseNum)
}

func TestGetUserInfoUpstreamFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"rsp_code":"O0005","rsp_message":"invalid token"}`))
	}))
	defer server.Close()

	client := NewDataClient(testConfig(server.URL))
	_, err := client.GetUserInfo(context.Background(), "expired", "1100012345")

	var providerErr *ProviderError
	require.ErrorAs(t, err, &providerErr)
	assert.Equal(t, http.StatusForbidden, providerErr.Status)
	assert.Contains(t, providerErr.Body, "invalid token")
}

func TestListAccountsMalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not-json`))
	}))
	defer server.Close()

	client := NewDataClient(testConfig(server.URL))
	_, err := client.ListAccounts(context.Background(), "T1", "")

	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, accountListPath, parseErr.Path)
}
