package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/MalithRanasinghe16/SyncDoc/internal/access"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet, http.MethodHead)
	api.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet, http.MethodHead)

	api.HandleFunc("/documents", s.handleCreateDocument).Methods(http.MethodPost)
	api.HandleFunc("/documents", s.handleListDocuments).Methods(http.MethodGet)
	api.HandleFunc("/documents/{id}", s.handleGetDocument).Methods(http.MethodGet)
	api.HandleFunc("/documents/{id}", s.handleUpdateDocument).Methods(http.MethodPatch)
	api.HandleFunc("/documents/{id}", s.handleDeleteDocument).Methods(http.MethodDelete)

	api.HandleFunc("/documents/{id}/collaborators/{userID}", s.handleSetCollaborator).Methods(http.MethodPut)
	api.HandleFunc("/documents/{id}/collaborators/{userID}", s.handleRemoveCollaborator).Methods(http.MethodDelete)

	api.HandleFunc("/documents/{id}/share", s.handleIssueShareLink).Methods(http.MethodPost)
	api.HandleFunc("/documents/{id}/share", s.handleUpdateShareSettings).Methods(http.MethodPatch)
	api.HandleFunc("/documents/{id}/share", s.handleRevokeSharing).Methods(http.MethodDelete)
	api.HandleFunc("/share/{token}", s.handleResolveShareToken).Methods(http.MethodGet)

	api.HandleFunc("/documents/{id}/versions", s.handleListVersions).Methods(http.MethodGet)
	api.HandleFunc("/documents/{id}/versions/{versionID}/restore", s.handleRestoreVersion).Methods(http.MethodPost)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: []string{s.corsOrigin},
		AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPatch, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", "X-User-ID", "X-User-Name", "X-Link-Password"},
	})
	return corsHandler.Handler(s.withLogging(r))
}

func (s *HTTPServer) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s (%s)", r.Method, r.URL.Path, time.Since(start).Round(time.Millisecond))
	})
}

// actorFromRequest assembles the caller identity the upstream session layer
// supplies: an opaque user id header for signed-in users, a share token as a
// query parameter for anonymous bearers.
func actorFromRequest(r *http.Request) access.Actor {
	return access.Actor{
		UserID:       r.Header.Get("X-User-ID"),
		DisplayName:  r.Header.Get("X-User-Name"),
		Token:        r.URL.Query().Get("token"),
		LinkPassword: r.Header.Get("X-Link-Password"),
	}
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.service.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	var input CreateDocumentInput
	if !decodeBody(w, r, &input) {
		return
	}
	item, err := s.service.CreateDocument(r.Context(), input, actorFromRequest(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (s *HTTPServer) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.ListDocuments(r.Context(), actorFromRequest(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": items})
}

func (s *HTTPServer) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	item, err := s.service.GetDocument(r.Context(), mux.Vars(r)["id"], actorFromRequest(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *HTTPServer) handleUpdateDocument(w http.ResponseWriter, r *http.Request) {
	var input UpdateDocumentInput
	if !decodeBody(w, r, &input) {
		return
	}
	item, err := s.service.UpdateDocument(r.Context(), mux.Vars(r)["id"], input, actorFromRequest(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *HTTPServer) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteDocument(r.Context(), mux.Vars(r)["id"], actorFromRequest(r)); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (s *HTTPServer) handleSetCollaborator(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Capability string `json:"capability"`
	}
	if !decodeBody(w, r, &input) {
		return
	}
	vars := mux.Vars(r)
	if err := s.service.SetCollaborator(r.Context(), vars["id"], vars["userID"], input.Capability, actorFromRequest(r)); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"userId": vars["userID"], "capability": input.Capability})
}

func (s *HTTPServer) handleRemoveCollaborator(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.service.RemoveCollaborator(r.Context(), vars["id"], vars["userID"], actorFromRequest(r)); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": true})
}

func (s *HTTPServer) handleIssueShareLink(w http.ResponseWriter, r *http.Request) {
	var input IssueShareLinkInput
	if !decodeBody(w, r, &input) {
		return
	}
	item, err := s.service.IssueShareLink(r.Context(), mux.Vars(r)["id"], input, actorFromRequest(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (s *HTTPServer) handleUpdateShareSettings(w http.ResponseWriter, r *http.Request) {
	var input UpdateShareSettingsInput
	if !decodeBody(w, r, &input) {
		return
	}
	item, err := s.service.UpdateShareSettings(r.Context(), mux.Vars(r)["id"], input, actorFromRequest(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *HTTPServer) handleRevokeSharing(w http.ResponseWriter, r *http.Request) {
	if err := s.service.RevokeSharing(r.Context(), mux.Vars(r)["id"], actorFromRequest(r)); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revoked": true})
}

func (s *HTTPServer) handleResolveShareToken(w http.ResponseWriter, r *http.Request) {
	password := r.Header.Get("X-Link-Password")
	if password == "" {
		password = r.URL.Query().Get("password")
	}
	item, err := s.service.ResolveShareToken(r.Context(), mux.Vars(r)["token"], password)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *HTTPServer) handleListVersions(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))
	item, err := s.service.ListVersions(r.Context(), mux.Vars(r)["id"], page, pageSize, actorFromRequest(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *HTTPServer) handleRestoreVersion(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	item, err := s.service.RestoreVersion(r.Context(), vars["id"], vars["versionID"], actorFromRequest(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func decodeBody(w http.ResponseWriter, r *http.Request, into any) bool {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid JSON body", nil)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}

func writeDomainError(w http.ResponseWriter, err error) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		writeError(w, domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details)
		return
	}
	log.Printf("internal error: %v", err)
	writeError(w, http.StatusInternalServerError, "INTERNAL", "Internal server error", nil)
}
