package banking

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go"

	"finlink/internal/auth"
	"finlink/internal/observability"
	"finlink/internal/provider"
)

const (
	maxJSONBodyBytes = 1 << 20
	maxDetailBytes   = 512
)

type Handler struct {
	service *Service
	logger  *observability.Logger
	// exposeDetail controls whether upstream bodies reach clients; off in
	// production-like environments, where detail stays in logs and sentry.
	exposeDetail bool
}

func NewHandler(service *Service, logger *observability.Logger, exposeDetail bool) *Handler {
	return &Handler{service: service, logger: logger, exposeDetail: exposeDetail}
}

func (h *Handler) AuthURL(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.AuthURL()
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to build authorization url")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimSpace(r.URL.Query().Get("code"))
	state := strings.TrimSpace(r.URL.Query().Get("state"))
	scope := strings.TrimSpace(r.URL.Query().Get("scope"))

	if code == "" || state == "" {
		writeError(w, http.StatusBadRequest, "code and state are required")
		return
	}

	if err := h.service.ConsumeCallbackState(state); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_or_expired_state")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"kftcAuthCode": code,
		"scope":        scope,
		"state":        state,
	})
}

func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing authenticated user")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var req ConnectRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	req.AuthCode = strings.TrimSpace(req.AuthCode)
	if req.AuthCode == "" {
		writeError(w, http.StatusBadRequest, "authCode is required")
		return
	}

	result, err := h.service.Connect(r.Context(), userID, req)
	if err != nil {
		h.writeConnectError(w, userID, err)
		return
	}

	transactions := result.Transactions
	if transactions == nil {
		transactions = []TransactionSummary{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "SYNC_COMPLETED",
		"bankName":     result.BankName,
		"transactions": transactions,
	})
}

func (h *Handler) AccessToken(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing authenticated user")
		return
	}

	token, err := h.service.ValidAccessToken(r.Context(), userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "user_not_found")
			return
		}

		detail, upstream := upstreamDetail(err)
		if upstream {
			h.logUpstream("token_refresh_failed", userID, detail)
		}
		body := map[string]string{"error": "token_refresh_failed"}
		if h.exposeDetail {
			body["detail"] = errDetail(err, detail, upstream)
		}
		writeJSON(w, http.StatusBadRequest, body)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"accessToken": token})
}

func (h *Handler) writeConnectError(w http.ResponseWriter, userID int64, err error) {
	if errors.Is(err, ErrUserNotFound) {
		writeError(w, http.StatusNotFound, "user_not_found")
		return
	}

	detail, upstream := upstreamDetail(err)
	if upstream || errors.Is(err, ErrExchangeInvalid) {
		h.logUpstream("connect_failed", userID, errDetail(err, detail, upstream))
		body := map[string]string{"error": "connect_failed"}
		if h.exposeDetail {
			body["detail"] = errDetail(err, detail, upstream)
		}
		writeJSON(w, http.StatusBadGateway, body)
		return
	}

	sentry.CaptureException(err)
	writeError(w, http.StatusInternalServerError, "failed to connect bank account")
}

func (h *Handler) logUpstream(event string, userID int64, detail string) {
	h.logger.Error(event, map[string]any{
		"user_id": userID,
		"detail":  detail,
	})
}

// upstreamDetail extracts the preserved status and body from a typed
// provider failure.
func upstreamDetail(err error) (string, bool) {
	var exchangeErr *provider.ExchangeError
	if errors.As(err, &exchangeErr) {
		return formatDetail("exchange", exchangeErr.Status, exchangeErr.Body), true
	}

	var refreshErr *provider.RefreshError
	if errors.As(err, &refreshErr) {
		return formatDetail("refresh", refreshErr.Status, refreshErr.Body), true
	}

	var providerErr *provider.ProviderError
	if errors.As(err, &providerErr) {
		return formatDetail("fetch", providerErr.Status, providerErr.Body), true
	}

	var parseErr *provider.ParseError
	if errors.As(err, &parseErr) {
		return parseErr.Error(), true
	}

	return "", false
}

func errDetail(err error, detail string, upstream bool) string {
	if upstream {
		return detail
	}
	return err.Error()
}

func formatDetail(stage string, status int, body string) string {
	if len(body) > maxDetailBytes {
		body = body[:maxDetailBytes]
	}
	return fmt.Sprintf("upstream %s status %d: %s", stage, status, body)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
