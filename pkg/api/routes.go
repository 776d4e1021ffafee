package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Router returns the HTTP routes. Everything except /health and /login
// requires a bearer token.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(Logging(s.log))

	router.HandleFunc("/health", s.Health).Methods(http.MethodGet)
	if s.mockLogin {
		router.HandleFunc("/login", s.Login).Methods(http.MethodPost)
	}

	private := router.NewRoute().Subrouter()
	private.Use(RequireAuth(s.sessions))
	private.HandleFunc("/ai-process", s.Ask).Methods(http.MethodPost)
	private.HandleFunc("/tasks", s.ListTasks).Methods(http.MethodGet)
	private.HandleFunc("/tasks", s.CreateTask).Methods(http.MethodPost)
	private.HandleFunc("/tasks/{id}", s.GetTask).Methods(http.MethodGet)
	private.HandleFunc("/tasks/{id}", s.DeleteTask).Methods(http.MethodDelete)
	private.HandleFunc("/tasks/{id}/complete", s.CompleteTask).Methods(http.MethodPost)
	private.HandleFunc("/tasks/{id}/reminder", s.RescheduleTask).Methods(http.MethodPut)
	private.HandleFunc("/stats", s.Stats).Methods(http.MethodGet)
	private.HandleFunc("/notify", s.Notify).Methods(http.MethodPost)
	return router
}
