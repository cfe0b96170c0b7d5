package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Tyrowin/gochat-relay/internal/auth"
	"github.com/Tyrowin/gochat-relay/internal/logging"
)

const maxAuthBodyBytes = 1 << 20

// RegisterRequest is the body of POST /auth/register.
type RegisterRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,maxbytes=72"`
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse carries the issued token.
type LoginResponse struct {
	Token string `json:"token"`
}

// Authenticator is the auth service as seen by the HTTP layer.
type Authenticator interface {
	Register(ctx context.Context, username, email, plaintext string) error
	Login(ctx context.Context, username, plaintext string) (string, error)
}

// AuthHandler serves the register and login endpoints.
type AuthHandler struct {
	svc              Authenticator
	validate         *validator.Validate
	hideUnknownUsers bool
	logger           *slog.Logger
}

// NewAuthHandler returns an AuthHandler. With hideUnknownUsers set, login
// answers an unknown username the same way as a wrong password.
func NewAuthHandler(svc Authenticator, hideUnknownUsers bool, logger *slog.Logger) *AuthHandler {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// bcrypt's input limit is in bytes, which max counts as runes.
	_ = v.RegisterValidation("maxbytes", func(fl validator.FieldLevel) bool {
		limit, err := strconv.Atoi(fl.Param())
		return err == nil && len(fl.Field().String()) <= limit
	})

	return &AuthHandler{
		svc:              svc,
		validate:         v,
		hideUnknownUsers: hideUnknownUsers,
		logger:           logging.OrDefault(logger),
	}
}

// Register handles POST /auth/register.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !h.decode(w, r, &req) {
		return
	}

	err := h.svc.Register(r.Context(), req.Username, req.Email, req.Password)

	var conflict *auth.ConflictError
	switch {
	case err == nil:
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("registered"))
	case errors.As(err, &conflict):
		http.Error(w, conflict.Error(), http.StatusBadRequest)
	case errors.Is(err, auth.ErrPasswordTooLong):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		h.logger.ErrorContext(r.Context(), "register failed", "error", err)
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
	}
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decode(w, r, &req) {
		return
	}

	tok, err := h.svc.Login(r.Context(), req.Username, req.Password)
	switch {
	case err == nil:
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(LoginResponse{Token: tok}); err != nil {
			h.logger.WarnContext(r.Context(), "error writing login response", "error", err)
		}
	case errors.Is(err, auth.ErrNotFound) && h.hideUnknownUsers:
		http.Error(w, auth.ErrInvalidCredentials.Error(), http.StatusUnauthorized)
	case errors.Is(err, auth.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, auth.ErrInvalidCredentials):
		http.Error(w, err.Error(), http.StatusUnauthorized)
	case errors.Is(err, auth.ErrUnavailable):
		h.logger.ErrorContext(r.Context(), "login failed", "error", err)
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
	default:
		h.logger.ErrorContext(r.Context(), "login failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// decode reads a JSON body into dst and validates it, writing the error
// response itself when it returns false.
func (h *AuthHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxAuthBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}

	if err := h.validate.Struct(dst); err != nil {
		http.Error(w, validationMessage(err), http.StatusBadRequest)
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}

	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "email":
		return fe.Field() + " must be a valid email address"
	case "max":
		return fe.Field() + " must be at most " + fe.Param() + " characters"
	case "maxbytes":
		return fe.Field() + " must be at most " + fe.Param() + " bytes"
	default:
		return fe.Field() + " is invalid"
	}
}
