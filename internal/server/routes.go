package server

import "net/http"

// SetupRoutes builds the mux for the services that are present. A nil auth
// or chat handler leaves its routes out.
func SetupRoutes(authHandler *AuthHandler, chat *ChatHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	if authHandler != nil {
		mux.HandleFunc("/auth/register", authHandler.Register)
		mux.HandleFunc("/auth/login", authHandler.Login)
	}
	if chat != nil {
		mux.Handle("/ws", chat)
		mux.HandleFunc("/test", TestPageHandler)
	}
	return mux
}
