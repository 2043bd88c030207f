package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"DeckPilot/core/auth"
	"DeckPilot/logger"
)

type contextKey string

const operatorKey contextKey = "operator"

// LoginRequest exchanges the API secret for a token.
type LoginRequest struct {
	Operator string `json:"operator"`
	Secret   string `json:"secret"`
}

// LoginHandler issues a bearer token to an operator who knows the API
// secret: POST /api/login.
func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if h.cfg.APISecret == "" {
		writeError(w, http.StatusNotImplemented, "API secret not configured")
		return
	}

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Operator = strings.TrimSpace(req.Operator)
	if req.Operator == "" || req.Secret == "" {
		writeError(w, http.StatusBadRequest, "operator and secret are required")
		return
	}
	if subtle.ConstantTimeCompare([]byte(req.Secret), []byte(h.cfg.APISecret)) != 1 {
		logger.Warn("[Login] rejected", logger.String("operator", req.Operator))
		writeError(w, http.StatusUnauthorized, "invalid secret")
		return
	}

	ttl := h.cfg.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	token, err := auth.GenerateToken(h.cfg.APISecret, req.Operator, ttl)
	if err != nil {
		logger.Error("[Login] token generation failed", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	logger.Info("[Login] token issued", logger.String("operator", req.Operator))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":     token,
		"operator":  req.Operator,
		"expiresAt": time.Now().Add(ttl).UTC(),
	})
}

// AuthMiddleware requires a bearer token signed with the API secret. Without
// a secret the API is open, which only makes sense on a booth-local bind.
func (h *APIHandler) AuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.cfg.APISecret == "" {
			next.ServeHTTP(w, r)
			return
		}

		token := ""
		authHeader := r.Header.Get("Authorization")
		if authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				writeError(w, http.StatusUnauthorized, "invalid authorization header format")
				return
			}
			token = parts[1]
		} else {
			// Browsers cannot set headers on a WebSocket handshake.
			token = r.URL.Query().Get("token")
		}
		if token == "" {
			writeError(w, http.StatusUnauthorized, "authorization header is required")
			return
		}

		claims, err := auth.ParseToken(h.cfg.APISecret, token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), operatorKey, claims.Operator)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// OperatorFromContext returns the operator named in the bearer token.
func OperatorFromContext(ctx context.Context) string {
	op, _ := ctx.Value(operatorKey).(string)
	return op
}
