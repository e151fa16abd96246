package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/jjudge-oj/authserver/types"
)

const maxRequestBodyBytes = 1 << 20

type contextKey string

const contextUserKey contextKey = "user"

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func withUser(ctx context.Context, user types.PublicUser) context.Context {
	return context.WithValue(ctx, contextUserKey, user)
}

// UserFromContext returns the user attached by LoadSession, if any.
func UserFromContext(ctx context.Context) (types.PublicUser, bool) {
	user, ok := ctx.Value(contextUserKey).(types.PublicUser)
	return user, ok
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	return json.NewDecoder(r.Body).Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}
