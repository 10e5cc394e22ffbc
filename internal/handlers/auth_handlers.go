package handlers

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pinmap/pinmap/internal/middleware"
	"github.com/pinmap/pinmap/internal/models"
	"github.com/pinmap/pinmap/internal/service"
)

const refreshCookieName = "refreshToken"

type AuthHandlers struct {
	auth       *service.AuthService
	production bool
	logger     *logrus.Logger
}

func NewAuthHandlers(auth *service.AuthService, production bool, logger *logrus.Logger) *AuthHandlers {
	return &AuthHandlers{
		auth:       auth,
		production: production,
		logger:     logger,
	}
}

type requestOTPRequest struct {
	Phone   string `json:"phone"`
	Channel string `json:"channel,omitempty"`
}

type verifyOTPRequest struct {
	Phone      string          `json:"phone"`
	Code       string          `json:"code"`
	Channel    string          `json:"channel,omitempty"`
	DeviceInfo json.RawMessage `json:"deviceInfo,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type userResponse struct {
	ID    string `json:"id"`
	Phone string `json:"phone"`
	Name  string `json:"name,omitempty"`
}

func (h *AuthHandlers) RequestOTP(w http.ResponseWriter, r *http.Request) {
	var req requestOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.auth.RequestCode(r.Context(), req.Phone, req.Channel); err != nil {
		h.respondError(w, err)
		return
	}

	channel := strings.ToLower(strings.TrimSpace(req.Channel))
	if channel == "" {
		channel = "sms"
	}

	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"message": "OTP sent via " + channel,
	})
}

func (h *AuthHandlers) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.auth.VerifyCode(
		r.Context(),
		req.Phone,
		req.Code,
		req.Channel,
		string(req.DeviceInfo),
		clientIP(r),
	)
	if err != nil {
		h.respondError(w, err)
		return
	}

	h.setRefreshCookie(w, result.RefreshToken, result.RefreshExpiresAt)
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"accessToken": result.AccessToken,
		"expiresIn":   result.ExpiresIn,
		"user": userResponse{
			ID:    result.User.ID,
			Phone: result.User.PhoneNumber,
			Name:  result.User.Name,
		},
	})
}

func (h *AuthHandlers) Refresh(w http.ResponseWriter, r *http.Request) {
	incoming := h.incomingRefreshToken(r)
	if incoming == "" {
		h.respondWithError(w, http.StatusUnauthorized, "No refresh token")
		return
	}

	result, err := h.auth.Rotate(r.Context(), incoming, clientIP(r))
	if err != nil {
		h.respondError(w, err)
		return
	}

	h.setRefreshCookie(w, result.RefreshToken, result.RefreshExpiresAt)
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"accessToken": result.AccessToken,
		"expiresIn":   result.ExpiresIn,
	})
}

// Logout always succeeds: the cookie is cleared and any decodable session is
// revoked best-effort.
func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	h.auth.Logout(r.Context(), h.incomingRefreshToken(r))

	h.clearRefreshCookie(w)
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

func (h *AuthHandlers) Me(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	if userID == "" {
		h.respondWithError(w, http.StatusUnauthorized, "Missing token")
		return
	}

	user, err := h.auth.User(r.Context(), userID)
	if err != nil {
		h.logger.WithError(err).Error("Failed to load user")
		h.respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if user == nil {
		h.respondWithError(w, http.StatusNotFound, "User not found")
		return
	}

	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"user": userResponse{
			ID:    user.ID,
			Phone: user.PhoneNumber,
			Name:  user.Name,
		},
	})
}

func (h *AuthHandlers) incomingRefreshToken(r *http.Request) string {
	if cookie, err := r.Cookie(refreshCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	var req refreshRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	return req.RefreshToken
}

func (h *AuthHandlers) setRefreshCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	maxAge := int(time.Until(expiresAt).Seconds())
	if maxAge < 0 {
		maxAge = 0
	}

	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.production,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandlers) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.production,
		SameSite: http.SameSiteLaxMode,
	})
}

// respondError maps the error taxonomy onto HTTP responses. Internal detail
// is logged, never sent to the caller.
func (h *AuthHandlers) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidCode):
		h.respondWithError(w, http.StatusBadRequest, "Invalid code")
	case errors.Is(err, models.ErrUnsupportedChannel):
		h.respondWithError(w, http.StatusBadRequest, `Unsupported channel. Use "sms" or "whatsapp".`)
	case errors.Is(err, models.ErrValidation):
		h.respondWithError(w, http.StatusBadRequest, "Invalid request")
	case errors.Is(err, models.ErrUnauthorized), errors.Is(err, models.ErrRefreshReuse):
		h.respondWithError(w, http.StatusUnauthorized, "Refresh token invalid or revoked")
	case errors.Is(err, models.ErrProvider):
		h.logger.WithError(err).Error("OTP provider failure")
		h.respondWithError(w, http.StatusBadGateway, "Failed to send verification code")
	default:
		h.logger.WithError(err).Error("Unhandled auth error")
		h.respondWithError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (h *AuthHandlers) respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func (h *AuthHandlers) respondWithError(w http.ResponseWriter, status int, message string) {
	h.respondWithJSON(w, status, map[string]string{"error": message})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
