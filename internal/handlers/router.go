package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/pinmap/pinmap/internal/middleware"
)

// NewRouter wires the auth endpoints. Rate limiting is expected in front of
// this service.
func NewRouter(
	authHandlers *AuthHandlers,
	authMiddleware *middleware.AuthMiddleware,
	logger *logrus.Logger,
	clientOrigin string,
) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.CORSMiddleware(clientOrigin))
	router.Use(middleware.LoggingMiddleware(logger))

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}).Methods("GET", "OPTIONS")

	auth := router.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/request-otp", authHandlers.RequestOTP).Methods("POST", "OPTIONS")
	auth.HandleFunc("/verify-otp", authHandlers.VerifyOTP).Methods("POST", "OPTIONS")
	auth.HandleFunc("/refresh", authHandlers.Refresh).Methods("POST", "OPTIONS")
	auth.HandleFunc("/logout", authHandlers.Logout).Methods("POST", "OPTIONS")

	user := router.PathPrefix("/user").Subrouter()
	user.Use(authMiddleware.RequireAuth)
	user.HandleFunc("/me", authHandlers.Me).Methods("GET", "OPTIONS")

	return router
}
