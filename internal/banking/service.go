package banking

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"finlink/internal/observability"
	"finlink/internal/provider"
)

const authorizePath = "/oauth/2.0/authorize"

// StateRegistry is the anti-forgery state store for the handshake.
type StateRegistry interface {
	Issue() (string, error)
	ValidateAndConsume(token string) bool
}

// TokenExchanger is the provider authorization-code grant.
type TokenExchanger interface {
	Exchange(ctx context.Context, authCode, scope string) (provider.TokenResponse, error)
}

// DataFetcher is the provider's read-only data surface.
type DataFetcher interface {
	GetUserInfo(ctx context.Context, accessToken, userSeqNo string) (provider.UserInfo, error)
	ListAccounts(ctx context.Context, accessToken, userSeqNo string) ([]provider.AccountRecord, error)
	ListTransactions(ctx context.Context, accessToken, accountKey, fromDate, toDate string) ([]provider.TransactionRecord, error)
}

// Service composes the handshake, token lifecycle, provider fetches and the
// ingestion pipeline into the public connection operations.
type Service struct {
	cfg       provider.Config
	states    StateRegistry
	exchanger TokenExchanger
	fetcher   DataFetcher
	tokens    *TokenManager
	pipeline  *Pipeline
	store     TokenStore
	logger    *observability.Logger
	now       func() time.Time
}

func NewService(
	cfg provider.Config,
	states StateRegistry,
	exchanger TokenExchanger,
	fetcher DataFetcher,
	tokens *TokenManager,
	pipeline *Pipeline,
	store TokenStore,
	logger *observability.Logger,
) *Service {
	return &Service{
		cfg:       cfg,
		states:    states,
		exchanger: exchanger,
		fetcher:   fetcher,
		tokens:    tokens,
		pipeline:  pipeline,
		store:     store,
		logger:    logger,
		now:       time.Now,
	}
}

type AuthURLResult struct {
	AuthURL string `json:"authUrl"`
	State   string `json:"state"`
	Scope   string `json:"scope"`
}

// AuthURL issues a fresh state and builds the provider consent URL.
func (s *Service) AuthURL() (AuthURLResult, error) {
	state, err := s.states.Issue()
	if err != nil {
		return AuthURLResult{}, fmt.Errorf("issue handshake state: %w", err)
	}

	params := url.Values{}
	params.Set("response_type", "code")
	params.Set("client_id", s.cfg.ClientID)
	params.Set("redirect_uri", s.cfg.RedirectURI)
	params.Set("scope", DefaultScope)
	params.Set("state", state)
	params.Set("auth_type", "0")

	return AuthURLResult{
		AuthURL: s.cfg.BaseURL + authorizePath + "?" + params.Encode(),
		State:   state,
		Scope:   DefaultScope,
	}, nil
}

// ConsumeCallbackState validates the returned state exactly once. A replayed
// or expired state fails and the handshake must restart from AuthURL.
func (s *Service) ConsumeCallbackState(state string) error {
	if !s.states.ValidateAndConsume(state) {
		return ErrInvalidState
	}
	return nil
}

type ConnectRequest struct {
	AuthCode     string              `json:"authCode"`
	Scope        string              `json:"scope"`
	BankName     string              `json:"bankName"`
	Transactions []ClientTransaction `json:"transactions"`
	FromDate     string              `json:"fromDate"`
	ToDate       string              `json:"toDate"`
}

type ConnectResult struct {
	BankName     string
	Transactions []TransactionSummary
}

// Connect exchanges the authorization code, persists the token set, then
// ingests either the caller-supplied batch (push mode) or the user's full
// provider history (pull mode). No token is persisted when the exchange
// fails; a failed exchange is never retried since the provider invalidates
// codes on first use.
func (s *Service) Connect(ctx context.Context, userID int64, req ConnectRequest) (ConnectResult, error) {
	scope := req.Scope
	if scope == "" {
		scope = DefaultScope
	}

	resp, err := s.exchanger.Exchange(ctx, req.AuthCode, scope)
	if err != nil {
		return ConnectResult{}, err
	}
	if resp.AccessToken == "" {
		return ConnectResult{}, ErrExchangeInvalid
	}

	set := TokenSet{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		UserSeqNo:    resp.UserSeqNo,
	}
	if resp.ExpiresIn > 0 {
		set.ExpiresAt = s.now().UTC().Add(time.Duration(resp.ExpiresIn) * time.Second)
	}
	if err := s.store.ReplaceTokenSet(ctx, userID, set); err != nil {
		return ConnectResult{}, err
	}

	if len(req.Transactions) > 0 {
		return s.connectPush(ctx, userID, req)
	}

	return s.connectPull(ctx, userID, set, req)
}

func (s *Service) connectPush(ctx context.Context, userID int64, req ConnectRequest) (ConnectResult, error) {
	result, err := s.pipeline.IngestClientBatch(ctx, userID, req.Transactions)
	if err != nil {
		return ConnectResult{}, err
	}

	s.logger.Info("push_ingest_completed", map[string]any{
		"user_id":    userID,
		"created":    result.Created,
		"duplicates": result.Duplicates,
	})

	return ConnectResult{
		BankName:     req.BankName,
		Transactions: result.Transactions,
	}, nil
}

// connectPull fetches the user's accounts and per-account history. Each
// account's batch commits independently: a failure fetching or ingesting one
// account is recorded and skipped without touching batches already
// committed for other accounts.
func (s *Service) connectPull(ctx context.Context, userID int64, set TokenSet, req ConnectRequest) (ConnectResult, error) {
	info, err := s.fetcher.GetUserInfo(ctx, set.AccessToken, set.UserSeqNo)
	if err != nil {
		return ConnectResult{}, err
	}

	userSeqNo := set.UserSeqNo
	if info.UserSeqNo != "" {
		userSeqNo = info.UserSeqNo
	}

	accounts, err := s.fetcher.ListAccounts(ctx, set.AccessToken, userSeqNo)
	if err != nil {
		return ConnectResult{}, err
	}

	bankName := req.BankName
	var summaries []TransactionSummary
	for _, account := range accounts {
		records, err := s.fetcher.ListTransactions(ctx, set.AccessToken, account.FintechUseNum, req.FromDate, req.ToDate)
		if err != nil {
			s.logger.Warn("account_history_fetch_failed", map[string]any{
				"user_id":     userID,
				"account_num": account.AccountNumMasked,
				"error":       err.Error(),
			})
			continue
		}

		result, err := s.pipeline.IngestProviderBatch(ctx, userID, AccountInput{
			BankName:   account.BankName,
			AccountNum: account.AccountNumMasked,
		}, records)
		if err != nil {
			s.logger.Warn("account_batch_ingest_failed", map[string]any{
				"user_id":     userID,
				"account_num": account.AccountNumMasked,
				"error":       err.Error(),
			})
			continue
		}

		if bankName == "" {
			bankName = account.BankName
		}
		summaries = append(summaries, result.Transactions...)
	}

	s.logger.Info("pull_ingest_completed", map[string]any{
		"user_id":      userID,
		"accounts":     len(accounts),
		"transactions": len(summaries),
	})

	return ConnectResult{
		BankName:     bankName,
		Transactions: summaries,
	}, nil
}

// ValidAccessToken is a diagnostic passthrough to the token lifecycle
// manager.
func (s *Service) ValidAccessToken(ctx context.Context, userID int64) (string, error) {
	return s.tokens.EnsureAccessToken(ctx, userID, DefaultScope)
}
