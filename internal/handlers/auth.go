package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/jjudge-oj/authserver/internal/auth"
	"github.com/jjudge-oj/authserver/internal/logging"
)

// AuthHandler exposes the authentication service over HTTP.
type AuthHandler struct {
	service *auth.Service
	logger  logging.Logger
}

// NewAuthHandler constructs an AuthHandler. logger may be nil.
func NewAuthHandler(service *auth.Service, logger logging.Logger) *AuthHandler {
	if logger == nil {
		logger = logging.Nop()
	}
	return &AuthHandler{
		service: service,
		logger:  logger.With("component", "handlers"),
	}
}

// AuthRouter registers auth routes on the given router.
func AuthRouter(r chi.Router, service *auth.Service, logger logging.Logger) {
	handler := NewAuthHandler(service, logger)

	r.Post("/register", handler.Register)
	r.Post("/login", handler.Login)
	r.With(handler.LoadSession, RequireUser).Get("/me", handler.Me)
}

// LoadSession restores the session named by an optional bearer token and
// attaches its user to the request context. Requests without an
// Authorization header pass through unchanged; a header carrying a token
// that cannot be restored is rejected.
func (h *AuthHandler) LoadSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := bearerToken(header)
		if !ok {
			writeError(w, http.StatusUnauthorized, "invalid token", auth.ErrorCode(auth.ErrInvalidToken))
			return
		}

		user, err := h.service.RestoreSession(r.Context(), token)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), user)))
	})
}

// RequireUser rejects requests that LoadSession did not attach a user to.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := UserFromContext(r.Context()); !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", auth.ErrorCode(auth.ErrNoToken))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Register creates a new account and returns it with a session token.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request", "INVALID_REQUEST")
		return
	}

	session, err := h.service.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, session)
}

// Login verifies credentials and returns the account with a session token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request", "INVALID_REQUEST")
		return
	}

	session, err := h.service.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// Me returns the user of the current session.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", auth.ErrorCode(auth.ErrNoToken))
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type CredentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *AuthHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code := auth.ErrorCode(err)
	switch {
	case errors.Is(err, auth.ErrValidation), errors.Is(err, auth.ErrWeakPassword):
		writeError(w, http.StatusBadRequest, validationMessage(err), code)
	case errors.Is(err, auth.ErrDuplicateUsername):
		writeError(w, http.StatusConflict, "username already exists", code)
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid credentials", code)
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrNoToken):
		// Every token failure is reported as INVALID_TOKEN.
		writeError(w, http.StatusUnauthorized, "invalid token", auth.ErrorCode(auth.ErrInvalidToken))
	default:
		h.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error", code)
	}
}

// validationMessage strips wrapping so the client sees only the rule that failed.
func validationMessage(err error) string {
	msg := err.Error()
	for _, sentinel := range []error{auth.ErrValidation, auth.ErrWeakPassword} {
		prefix := sentinel.Error() + ": "
		if strings.HasPrefix(msg, prefix) {
			return strings.TrimPrefix(msg, prefix)
		}
	}
	return msg
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	return token, true
}
