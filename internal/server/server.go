// Package server exposes the clinical workflow over HTTP: authentication,
// patient registration, X-ray upload and the analysis endpoint that drives
// the inference service and persists its output.
package server

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/MGASALUCAS/deepxray/internal/analysis"
	"github.com/MGASALUCAS/deepxray/internal/store"
)

type Server struct {
	store     *store.Store
	analyzer  *analysis.Service
	auth      *Authenticator
	uploadDir string
}

func New(st *store.Store, analyzer *analysis.Service, uploadDir string) *Server {
	return &Server{
		store:     st,
		analyzer:  analyzer,
		auth:      NewAuthenticator(st),
		uploadDir: uploadDir,
	}
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.HandleFunc("/metrics", s.handleMetrics).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/register", s.auth.handleRegister).Methods("POST")
	api.HandleFunc("/login", s.auth.handleLogin).Methods("POST")

	protected := api.NewRoute().Subrouter()
	protected.Use(s.auth.Middleware)
	protected.HandleFunc("/patients", s.handleRegisterPatient).Methods("POST")
	protected.HandleFunc("/patients", s.handleListPatients).Methods("GET")
	protected.HandleFunc("/submissions", s.handleUpload).Methods("POST")
	protected.HandleFunc("/submissions/{id}", s.handleGetSubmission).Methods("GET")
	protected.HandleFunc("/submissions/{id}/analyze", s.handleAnalyze).Methods("POST")
	protected.HandleFunc("/results", s.handleListResults).Methods("GET")

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.analyzer.Metrics().Snapshot())
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func sendError(w http.ResponseWriter, code, message string, status int) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}
