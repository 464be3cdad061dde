package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/opwisdom/wisdomd/internal/domain"
)

// TokenIssuer mints bearer tokens for authenticated users.
type TokenIssuer interface {
	Issue(userID string) (string, error)
}

// WalletVerifier checks a personal_sign signature. Nil disables wallet
// verification (development mode).
type WalletVerifier func(signer, message, signature string) error

// AuthHandler serves token issuance.
type AuthHandler struct {
	tokens TokenIssuer
	verify WalletVerifier
	logger *slog.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(tokens TokenIssuer, verify WalletVerifier, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{tokens: tokens, verify: verify, logger: logger}
}

type loginRequest struct {
	UserID    string `json:"userId"`
	Signer    string `json:"signer"`
	Signature string `json:"signature"`
	Timestamp int64  `json:"timestamp"`
}

// loginWindow bounds how stale a signed login message may be.
const loginWindow = 5 * time.Minute

// Login issues a bearer token. With wallet verification enabled the caller
// must sign "login|{userId}|{timestamp}" with their wallet; without it the
// user id is taken at face value.
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	if h.verify != nil {
		age := time.Since(time.Unix(req.Timestamp, 0))
		if age < 0 {
			age = -age
		}
		if age > loginWindow {
			writeError(w, http.StatusUnauthorized, "login message expired")
			return
		}
		message := "login|" + req.UserID + "|" + strconv.FormatInt(req.Timestamp, 10)
		if err := h.verify(req.Signer, message, req.Signature); err != nil {
			writeDomainError(w, domain.ErrInvalidSignature)
			return
		}
	}

	token, err := h.tokens.Issue(req.UserID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: token issue failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}
