// Package api implements the control plane's HTTP/JSON surface:
// request CRUD, quota management, the file-state query endpoint and
// the unverified-spots report, behind JWT/API-key auth middleware.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cedadev/nla-control-go/internal/auth"
	"github.com/cedadev/nla-control-go/internal/database"
	"github.com/cedadev/nla-control-go/internal/logging"
	"github.com/cedadev/nla-control-go/internal/models"
	"github.com/cedadev/nla-control-go/internal/pathresolver"
	"github.com/cedadev/nla-control-go/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type claimsKey struct{}

func withClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

func claimsFrom(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(claimsKey{}).(*auth.Claims)
	if claims == nil {
		return &auth.Claims{}
	}
	return claims
}

// Server serves the control plane's HTTP/JSON API.
type Server struct {
	router      *chi.Mux
	db          *database.DB
	store       *store.Store
	resolver    *pathresolver.Resolver
	authService *auth.Service
	logger      *logging.Logger
	eventBus    *EventBus
	ready       func() bool
}

// NewServer creates a Server wired to st for data access, resolver for
// spot-name lookups, and authService for the login/claims middleware.
// ready is consulted by GET /healthz in addition to the database ping;
// pass nil to skip it.
func NewServer(db *database.DB, st *store.Store, resolver *pathresolver.Resolver, authService *auth.Service, logger *logging.Logger, ready func() bool) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		db:          db,
		store:       st,
		resolver:    resolver,
		authService: authService,
		logger:      logger,
		eventBus:    NewEventBus(),
		ready:       ready,
	}
	s.setupRoutes()
	return s
}

// Handler returns the server's http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Publish emits a system event visible to any SSE subscriber; other
// components (the Executor, the Verifier) call this to surface
// lifecycle notices to an operator console.
func (s *Server) Publish(eventType, category, title, message string) {
	s.eventBus.Publish(SystemEvent{Type: eventType, Category: category, Title: title, Message: message})
}

func (s *Server) setupRoutes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.handleHealthz)

	r.Post("/api/v1/auth/login", s.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Route("/api/v1/requests", func(r chi.Router) {
			r.Get("/", s.handleListRequests)
			r.Get("/{id}", s.handleGetRequest)
			r.Group(func(r chi.Router) {
				r.Use(s.operatorOnlyMiddleware)
				r.Post("/", s.handleCreateRequest)
				r.Put("/{id}", s.handleUpdateRequest)
			})
		})

		r.Route("/api/v1/quota", func(r chi.Router) {
			r.Get("/{user}", s.handleGetQuota)
			r.Group(func(r chi.Router) {
				r.Use(s.adminOnlyMiddleware)
				r.Post("/", s.handleCreateQuota)
				r.Put("/{user}", s.handleUpdateQuota)
			})
		})

		r.Get("/api/v1/files", s.handleListFiles)

		r.Route("/api/v1/restore-disks", func(r chi.Router) {
			r.Get("/", s.handleListRestoreDisks)
			r.Group(func(r chi.Router) {
				r.Use(s.adminOnlyMiddleware)
				r.Post("/", s.handleCreateRestoreDisk)
			})
		})

		r.Get("/unverifiedspots", s.handleUnverifiedSpots)

		r.Group(func(r chi.Router) {
			r.Use(s.adminOnlyMiddleware)
			r.Get("/api/v1/audit", s.handleListAuditLogs)
		})

		r.Get("/api/v1/events/stream", s.handleEventStream)
		r.Get("/api/v1/events", s.handleGetNotifications)
	})
}

// auditLog records an audit log entry for the given action
func (s *Server) auditLog(r *http.Request, action, resourceType string, resourceID int64, details string) {
	userID := claimsFrom(r.Context()).UserID
	ipAddress := r.RemoteAddr
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		ipAddress = fwd
	}
	s.db.Exec(`
		INSERT INTO audit_logs (user_id, action, resource_type, resource_id, details, ip_address)
		VALUES (?, ?, ?, ?, ?, ?)
	`, userID, action, resourceType, resourceID, details, ipAddress)
}

func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	limit := 100
	offset := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		limit, _ = strconv.Atoi(l)
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		offset, _ = strconv.Atoi(o)
	}

	rows, err := s.db.Query(`
		SELECT al.id, al.user_id, u.username, al.action, al.resource_type, al.resource_id,
		       al.details, al.ip_address, al.created_at
		FROM audit_logs al
		LEFT JOIN users u ON al.user_id = u.id
		ORDER BY al.created_at DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer rows.Close()

	logs := make([]map[string]interface{}, 0)
	for rows.Next() {
		var al models.AuditLog
		var username *string
		if err := rows.Scan(&al.ID, &al.UserID, &username, &al.Action, &al.ResourceType, &al.ResourceID,
			&al.Details, &al.IPAddress, &al.CreatedAt); err != nil {
			continue
		}
		logs = append(logs, map[string]interface{}{
			"id":            al.ID,
			"user_id":       al.UserID,
			"username":      username,
			"action":        al.Action,
			"resource_type": al.ResourceType,
			"resource_id":   al.ResourceID,
			"details":       al.Details,
			"ip_address":    al.IPAddress,
			"created_at":    al.CreatedAt,
		})
	}

	s.respondJSON(w, http.StatusOK, logs)
}

// Middleware

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var tokenStr string
		if authHeader := r.Header.Get("Authorization"); authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) == 2 && parts[0] == "Bearer" {
				tokenStr = parts[1]
			}
		}
		if tokenStr == "" {
			tokenStr = r.URL.Query().Get("token")
		}

		if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
			claims, err := s.authService.ValidateAPIKey(apiKey)
			if err != nil {
				s.respondError(w, http.StatusUnauthorized, "invalid API key")
				return
			}
			next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), claims)))
			return
		}

		if tokenStr == "" {
			s.respondError(w, http.StatusUnauthorized, "missing authorization")
			return
		}
		claims, err := s.authService.ValidateToken(tokenStr)
		if err != nil {
			s.respondError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), claims)))
	})
}

func (s *Server) adminOnlyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if claimsFrom(r.Context()).Role != models.RoleAdmin {
			s.respondError(w, http.StatusForbidden, "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// operatorOnlyMiddleware gates request-mutating endpoints to operator
// or admin roles; readonly accounts may only read.
func (s *Server) operatorOnlyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role := claimsFrom(r.Context()).Role
		if role != models.RoleAdmin && role != models.RoleOperator {
			s.respondError(w, http.StatusForbidden, "operator access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Helper functions

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

func (s *Server) getIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

// Auth handlers

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	token, user, err := s.authService.Login(req.Username, req.Password)
	if err != nil {
		s.respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"token": token,
		"user": map[string]interface{}{
			"id":       user.ID,
			"username": user.Username,
			"role":     user.Role,
		},
	})
}

// handleHealthz reports liveness: the database must answer a ping, and
// (if configured) the supplied ready func must return true; it is wired to
// "has the Path Resolver completed its first Load" at startup.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(); err != nil {
		s.respondError(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	if s.ready != nil && !s.ready() {
		s.respondError(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Request handlers

type requestSummary struct {
	ID          int64      `json:"id"`
	Quota       string     `json:"quota"`
	Retention   *time.Time `json:"retention"`
	RequestDate time.Time  `json:"request_date"`
	Label       *string    `json:"label"`
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := s.store.ListTapeRequests()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]requestSummary, 0, len(reqs))
	for _, req := range reqs {
		quota, err := s.store.GetQuotaByID(req.QuotaID)
		user := ""
		if err == nil {
			user = quota.User
		}
		out = append(out, requestSummary{
			ID:          req.ID,
			Quota:       user,
			Retention:   req.RetentionAt,
			RequestDate: req.RequestDate,
			Label:       req.Label,
		})
	}
	s.respondJSON(w, http.StatusOK, out)
}

type requestDetail struct {
	*models.TapeRequest
	Files []*models.TapeFile `json:"files"`
}

// resolveDisplayFiles picks the file set to show for a request by
// priority: already-resolved request_files join rows, else the
// explicit request_files list re-matched verbatim, else pattern
// expansion, the same priority GET /requests/<id> documents.
func (s *Server) resolveDisplayFiles(req *models.TapeRequest) ([]*models.TapeFile, error) {
	if joined, err := s.store.RequestFiles(req.ID); err == nil && len(joined) > 0 {
		return joined, nil
	}
	allStages := []models.Stage{
		models.StageUnverified, models.StageOnTape, models.StageRestoring,
		models.StageOnDisk, models.StageRestored,
	}
	if req.RequestFiles != "" {
		paths := strings.Split(req.RequestFiles, "\n")
		for i := range paths {
			paths[i] = strings.TrimSpace(paths[i])
		}
		return s.store.ListTapeFilesByLogicalPaths(paths, allStages)
	}
	if req.RequestPatterns != "" {
		patterns := strings.Split(req.RequestPatterns, "\n")
		for i := range patterns {
			patterns[i] = strings.TrimSpace(patterns[i])
		}
		return s.store.ListTapeFilesByPatternAndStages(patterns, allStages)
	}
	return nil, nil
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	id, err := s.getIDParam(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid id")
		return
	}
	req, err := s.store.GetTapeRequestByID(id)
	if err != nil {
		s.respondError(w, http.StatusNotFound, "request not found")
		return
	}
	files, err := s.resolveDisplayFiles(req)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, requestDetail{TapeRequest: req, Files: files})
}

type createRequestBody struct {
	Quota             string  `json:"quota"`
	Patterns          string  `json:"patterns"`
	Files             string  `json:"files"`
	Retention         *string `json:"retention"`
	Label             *string `json:"label"`
	NotifyOnFirstFile *string `json:"notify_on_first_file"`
	NotifyOnLastFile  *string `json:"notify_on_last_file"`
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var body createRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	quota, err := s.store.GetQuotaByUser(body.Quota)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "unknown quota user")
		return
	}

	allStages := []models.Stage{
		models.StageUnverified, models.StageOnTape, models.StageRestoring,
		models.StageOnDisk, models.StageRestored,
	}
	var matched []*models.TapeFile
	if body.Files != "" {
		paths := splitTrimmed(body.Files)
		matched, err = s.store.ListTapeFilesByLogicalPaths(paths, allStages)
	} else if body.Patterns != "" {
		patterns := splitTrimmed(body.Patterns)
		matched, err = s.store.ListTapeFilesByPatternAndStages(patterns, allStages)
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var matchedBytes int64
	for _, f := range matched {
		matchedBytes += f.Size
	}
	used, err := s.store.UsedBytes(quota.ID, time.Now())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if used+matchedBytes > quota.SizeBytes {
		s.respondError(w, http.StatusForbidden, "Requested file(s) exceed user's quota")
		return
	}

	var retention *time.Time
	if body.Retention != nil && *body.Retention != "" {
		t, err := time.Parse(time.RFC3339, *body.Retention)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid retention timestamp")
			return
		}
		retention = &t
	}

	req, err := s.store.CreateTapeRequest(store.CreateTapeRequestParams{
		Label:           body.Label,
		QuotaID:         quota.ID,
		RetentionAt:     retention,
		RequestFiles:    body.Files,
		RequestPatterns: body.Patterns,
		NotifyFirst:     body.NotifyOnFirstFile,
		NotifyLast:      body.NotifyOnLastFile,
	})
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.auditLog(r, "create", "tape_request", req.ID, fmt.Sprintf("Created request for %s", quota.User))
	s.Publish("info", "request", "request created", "request "+strconv.FormatInt(req.ID, 10)+" created for "+quota.User)
	s.respondJSON(w, http.StatusCreated, req)
}

type updateRequestBody struct {
	Label             *string `json:"label"`
	Retention         *string `json:"retention"`
	NotifyOnFirstFile *string `json:"notify_on_first_file"`
	NotifyOnLastFile  *string `json:"notify_on_last_file"`
}

func (s *Server) handleUpdateRequest(w http.ResponseWriter, r *http.Request) {
	id, err := s.getIDParam(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid id")
		return
	}
	req, err := s.store.GetTapeRequestByID(id)
	if err != nil {
		s.respondError(w, http.StatusNotFound, "request not found")
		return
	}

	var body updateRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	label := req.Label
	if body.Label != nil {
		label = body.Label
	}
	retention := req.RetentionAt
	if body.Retention != nil {
		if *body.Retention == "" {
			retention = nil
		} else if t, err := time.Parse(time.RFC3339, *body.Retention); err == nil {
			retention = &t
		} else {
			s.respondError(w, http.StatusBadRequest, "invalid retention timestamp")
			return
		}
	}

	quota, err := s.store.GetQuotaByID(req.QuotaID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	notifyFirst := emptyFallsBackToQuotaEmail(req.NotifyFirst, body.NotifyOnFirstFile, quota)
	notifyLast := emptyFallsBackToQuotaEmail(req.NotifyLast, body.NotifyOnLastFile, quota)

	if err := s.store.UpdateTapeRequestFields(id, label, retention, notifyFirst, notifyLast); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	updated, err := s.store.GetTapeRequestByID(id)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.auditLog(r, "update", "tape_request", id, "Updated request label/retention/notify fields")
	s.respondJSON(w, http.StatusOK, updated)
}

// emptyFallsBackToQuotaEmail implements the PUT semantics: an explicit
// empty string in the body clears the override back to the quota's
// email, a nil field leaves the current value untouched.
func emptyFallsBackToQuotaEmail(current, update *string, quota *models.Quota) *string {
	if update == nil {
		return current
	}
	if *update == "" {
		return quota.EmailAddress
	}
	return update
}

func splitTrimmed(s string) []string {
	parts := strings.Split(s, "\n")
	out := parts[:0]
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Quota handlers

type quotaDetail struct {
	*models.Quota
	UsedBytes int64                 `json:"used_bytes"`
	Requests  []*models.TapeRequest `json:"requests"`
}

func (s *Server) handleGetQuota(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	quota, err := s.store.GetQuotaByUser(user)
	if err != nil {
		s.respondError(w, http.StatusNotFound, "quota not found")
		return
	}
	used, err := s.store.UsedBytes(quota.ID, time.Now())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	reqs, err := s.store.ListTapeRequestsByQuota(quota.ID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, quotaDetail{Quota: quota, UsedBytes: used, Requests: reqs})
}

type createQuotaBody struct {
	User         string  `json:"user"`
	SizeBytes    int64   `json:"size_bytes"`
	EmailAddress *string `json:"email_address"`
	Notes        *string `json:"notes"`
}

func (s *Server) handleCreateQuota(w http.ResponseWriter, r *http.Request) {
	var body createQuotaBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	quota, err := s.store.CreateQuota(body.User, body.SizeBytes, body.EmailAddress, body.Notes)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.auditLog(r, "create", "quota", quota.ID, fmt.Sprintf("Created quota for %s", quota.User))
	s.respondJSON(w, http.StatusCreated, quota)
}

func (s *Server) handleUpdateQuota(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	quota, err := s.store.GetQuotaByUser(user)
	if err != nil {
		s.respondError(w, http.StatusNotFound, "quota not found")
		return
	}
	var body createQuotaBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.SizeBytes == 0 {
		body.SizeBytes = quota.SizeBytes
	}
	if err := s.store.UpdateQuota(quota.ID, body.SizeBytes, body.EmailAddress, body.Notes); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	updated, err := s.store.GetQuotaByUser(user)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, updated)
}

// Restore disk handlers (registration is admin-only)

func (s *Server) handleListRestoreDisks(w http.ResponseWriter, r *http.Request) {
	disks, err := s.store.ListRestoreDisks()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, disks)
}

func (s *Server) handleCreateRestoreDisk(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Mountpoint     string `json:"mountpoint"`
		AllocatedBytes int64  `json:"allocated_bytes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	disk, err := s.store.CreateRestoreDisk(body.Mountpoint, body.AllocatedBytes)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.auditLog(r, "create", "restore_disk", disk.ID, fmt.Sprintf("Registered restore disk at %s", disk.Mountpoint))
	s.respondJSON(w, http.StatusCreated, disk)
}

// File query handler

// stageChars maps the API's single-letter stage codes to Stage values.
// DELETED has no code: a file is gone from the control plane's view
// the moment it is deleted, so the query surface never needs to ask
// for it.
var stageChars = map[byte]models.Stage{
	'U': models.StageUnverified,
	'D': models.StageOnDisk,
	'T': models.StageOnTape,
	'A': models.StageRestoring,
	'R': models.StageRestored,
}

func parseStages(s string) []models.Stage {
	if s == "" {
		s = "UDTAR"
	}
	var stages []models.Stage
	for i := 0; i < len(s); i++ {
		if st, ok := stageChars[s[i]]; ok {
			stages = append(stages, st)
		}
	}
	return stages
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	match := r.URL.Query().Get("match")
	stages := parseStages(r.URL.Query().Get("stages"))
	withSpot := r.URL.Query().Get("spot") == "true"

	var files []*models.TapeFile
	var err error
	if match != "" {
		files, err = s.store.ListTapeFilesByPatternAndStages([]string{match}, stages)
	} else {
		files, err = s.store.ListAllTapeFiles()
		if err == nil {
			files = filterByStage(files, stages)
		}
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if !withSpot {
		s.respondJSON(w, http.StatusOK, files)
		return
	}

	type fileWithSpot struct {
		*models.TapeFile
		Spot string `json:"spot"`
	}
	out := make([]fileWithSpot, 0, len(files))
	for _, f := range files {
		spot := ""
		if s.resolver != nil {
			if _, sp, err := s.resolver.Resolve(f.LogicalPath); err == nil {
				spot = sp
			}
		}
		out = append(out, fileWithSpot{TapeFile: f, Spot: spot})
	}
	s.respondJSON(w, http.StatusOK, out)
}

func filterByStage(files []*models.TapeFile, stages []models.Stage) []*models.TapeFile {
	allowed := make(map[models.Stage]struct{}, len(stages))
	for _, st := range stages {
		allowed[st] = struct{}{}
	}
	var out []*models.TapeFile
	for _, f := range files {
		if _, ok := allowed[f.Stage]; ok {
			out = append(out, f)
		}
	}
	return out
}

// handleUnverifiedSpots reports, one per line, the set of spots
// holding any UNVERIFIED file, resolved via the Path Resolver's
// logical-path-prefix table.
func (s *Server) handleUnverifiedSpots(w http.ResponseWriter, r *http.Request) {
	files, err := s.store.ListTapeFilesByStage(models.StageUnverified)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	seen := make(map[string]struct{})
	for _, f := range files {
		if s.resolver == nil {
			continue
		}
		if _, spot, err := s.resolver.Resolve(f.LogicalPath); err == nil {
			seen[spot] = struct{}{}
		}
	}
	spots := make([]string, 0, len(seen))
	for sp := range seen {
		spots = append(spots, sp)
	}
	sort.Strings(spots)

	w.Header().Set("Content-Type", "text/plain")
	for _, sp := range spots {
		w.Write([]byte(sp + "\n"))
	}
}
