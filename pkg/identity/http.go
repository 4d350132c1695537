package identity

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/emedx/imaging-gateway/pkg/domain"
)

type principalContextKey struct{}

// Handler exposes the identity service over HTTP. It terminates the local
// surface of the gateway; requests routed here never touch the proxy engine.
type Handler struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandler constructs the HTTP handler for the identity gateway.
func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

// Routes returns the chi router for the local surface. The caller mounts it
// at the configured local prefix.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/register", h.handleRegister)
	r.Post("/login", h.handleLogin)
	r.Get("/verify-email/{token}", h.handleVerifyEmail)
	r.Post("/resend-verification-public", h.handleResendVerificationPublic)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Get("/me", h.handleMe)
		r.Post("/resend-verification", h.handleResendVerification)
		r.Put("/profile", h.handleUpdateProfile)
		r.Put("/change-password", h.handleChangePassword)
	})

	return r
}

// requireAuth authenticates the bearer credential and stores the principal in
// the request context.
func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := h.svc.Authenticate(r.Context(), bearerToken(r))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), principalContextKey{}, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func principalFrom(r *http.Request) *domain.User {
	user, _ := r.Context().Value(principalContextKey{}).(*domain.User)
	return user
}

// bearerToken extracts the session token from the Authorization header, with
// a fallback to the legacy Token header the original frontend used.
func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.Header.Get("Token")
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Name     string `json:"name"`
	}
	if !h.readJSON(w, r, &req) {
		return
	}

	result, err := h.svc.Register(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"token":   result.Token,
		"user":    result.User.Public(),
		"message": "Registration successful. Please check your email to verify your account.",
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !h.readJSON(w, r, &req) {
		return
	}

	result, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"success":            true,
		"token":              result.Token,
		"user":               result.User.Public(),
		"requireEmailVerify": result.RequireEmailVerify,
	})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	user := principalFrom(r)
	h.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"user":    user.Public(),
	})
}

func (h *Handler) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if err := h.svc.VerifyEmail(r.Context(), token); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Email verified successfully",
	})
}

func (h *Handler) handleResendVerification(w http.ResponseWriter, r *http.Request) {
	user := principalFrom(r)
	if err := h.svc.ResendVerification(r.Context(), user.ID); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Verification email sent. Please check your email.",
	})
}

func (h *Handler) handleResendVerificationPublic(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !h.readJSON(w, r, &req) {
		return
	}

	if err := h.svc.ResendVerificationByCredentials(r.Context(), req.Email, req.Password); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Verification email sent. Please check your email.",
	})
}

func (h *Handler) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if !h.readJSON(w, r, &req) {
		return
	}

	user := principalFrom(r)
	updated, emailChanged, err := h.svc.UpdateProfile(r.Context(), user.ID, req.Name, req.Email)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	message := "Profile updated successfully"
	if emailChanged {
		message = "Profile updated. New email requires verification."
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": message,
		"user":    updated.Public(),
	})
}

func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if !h.readJSON(w, r, &req) {
		return
	}

	user := principalFrom(r)
	if err := h.svc.ChangePassword(r.Context(), user.ID, req.CurrentPassword, req.NewPassword); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Password changed successfully",
	})
}

func (h *Handler) readJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, r, domain.Validation("Invalid request body"))
		return false
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Warn("failed to encode response body", "error", err)
	}
}

// writeError maps any error to the taxonomy and emits the structured JSON
// error body. Internal causes are logged server-side and never leaked.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := domain.AsAPIError(err)
	if apiErr.Status >= http.StatusInternalServerError {
		h.logger.Error("identity request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"code", apiErr.Code,
			"error", err,
		)
	}

	body := map[string]any{"error": apiErr.Message}
	for k, v := range apiErr.Details {
		body[k] = v
	}
	h.writeJSON(w, apiErr.Status, body)
}
