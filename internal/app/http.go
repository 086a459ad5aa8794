package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"shopfloor/api/internal/auth"
	"shopfloor/api/internal/backend"
	"shopfloor/api/internal/metrics"
	"shopfloor/api/internal/realtime"
	"shopfloor/api/internal/search"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	realtime   http.Handler
	logger     *zap.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, logger *zap.Logger) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &HTTPServer{service: service, corsOrigin: corsOrigin, logger: logger.Named("http")}
	if service.hub != nil {
		s.realtime = realtime.ServeWS(service.hub, realtime.OriginPatterns(corsOrigin), logger)
	}
	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/metrics" {
		metrics.Handler().ServeHTTP(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/sign-up" {
		s.handleAuthSignUp(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/sign-in" {
		s.handleAuthSignIn(w, r)
		return
	}

	if r.URL.Path == "/api/session" && r.Method == http.MethodGet {
		s.handleSession(w, r)
		return
	}

	if r.URL.Path == "/api/session/refresh" && r.Method == http.MethodPost {
		s.handleRefresh(w, r)
		return
	}

	if r.URL.Path == "/api/session/logout" && r.Method == http.MethodPost {
		s.handleLogout(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/realtime" {
		if s.realtime == nil {
			writeError(w, http.StatusServiceUnavailable, "REALTIME_UNAVAILABLE", "Realtime channel not configured", nil)
			return
		}
		s.realtime.ServeHTTP(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		s.handleSearch(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/diagnostics" {
		tables, healthy := s.service.Diagnostics(r.Context())
		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]any{"ok": healthy, "tables": tables})
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 3 && len(parts) <= 4 && parts[0] == "api" && parts[1] == "tables" {
		id := ""
		if len(parts) == 4 {
			id = parts[3]
		}
		s.handleTable(w, r, parts[2], id)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// handleReady fails only on the database. Search degrades to scanning, so
// it is reported but never makes the service unready.
func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	code := http.StatusOK
	database := map[string]any{"status": "ok"}
	if err := s.service.Ping(ctx); err != nil {
		code = http.StatusServiceUnavailable
		database = map[string]any{"status": "error", "error": err.Error()}
	}
	checks := map[string]any{"database": database}
	if engine := s.service.SearchEngine(); engine != "" {
		checks["search"] = map[string]any{"status": "ok", "engine": engine}
	}

	status := "ready"
	if code != http.StatusOK {
		status = "not_ready"
	}
	writeJSON(w, code, map[string]any{"ok": code == http.StatusOK, "status": status, "checks": checks})
}

// handleSession never fails: a missing or bad token is just "not
// authenticated".
func (s *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	anonymous := map[string]any{"authenticated": false}
	token := bearerToken(r)
	if token == "" {
		writeJSON(w, http.StatusOK, anonymous)
		return
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		writeJSON(w, http.StatusOK, anonymous)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"userId":        session.UserID,
		"email":         session.Email,
		"displayName":   session.DisplayName,
		"tier":          session.Tier.String(),
		"expiresAt":     session.ExpiresAt.UTC(),
	})
}

type refreshBody struct {
	RefreshToken string `json:"refreshToken"`
}

func (s *HTTPServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body refreshBody
	if !readBody(w, r, &body) {
		return
	}
	session, err := s.service.Refresh(r.Context(), body.RefreshToken)
	if errors.Is(err, auth.ErrInvalidToken) {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session.payload())
}

// handleLogout always succeeds; an unknown token is already logged out.
func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	var body refreshBody
	_ = decodeBody(r, &body)
	if err := s.service.Logout(r.Context(), body.RefreshToken); err != nil {
		s.logger.Warn("logout failed", zap.String("request_id", requestID(r.Context())), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleTable(w http.ResponseWriter, r *http.Request, table, id string) {
	if !backend.ValidTable(table) {
		writeError(w, http.StatusNotFound, "UNKNOWN_TABLE", fmt.Sprintf("Unknown table %q", table), nil)
		return
	}

	switch {
	case r.Method == http.MethodGet && id == "":
		query, err := backend.ParseQuery(r.URL.Query())
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_QUERY", err.Error(), nil)
			return
		}
		if r.URL.Query().Get("count") != "" {
			n, err := s.service.Count(r.Context(), table, query)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"count": n})
			return
		}
		rows, err := s.service.Read(r.Context(), table, query)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if rows == nil {
			rows = []backend.Record{}
		}
		writeJSON(w, http.StatusOK, rows)

	case r.Method == http.MethodPost && id == "":
		session, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		var body backend.Record
		if !readBody(w, r, &body) {
			return
		}
		created, err := s.service.Insert(r.Context(), session, table, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)

	case r.Method == http.MethodPatch && id != "":
		session, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		var body backend.Record
		if !readBody(w, r, &body) {
			return
		}
		updated, err := s.service.Update(r.Context(), session, table, id, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)

	case r.Method == http.MethodDelete && id != "":
		session, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		if err := s.service.Delete(r.Context(), session, table, id); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	filterType := search.ResultType(strings.TrimSpace(r.URL.Query().Get("type")))
	if filterType != "" && filterType != search.ResultProduct && filterType != search.ResultMachine {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "type must be product or machine", nil)
		return
	}
	limit := 20
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 100 {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be between 1 and 100", nil)
			return
		}
		limit = parsed
	}
	resp, err := s.service.Search(r.Context(), search.Query{Text: q, FilterType: filterType, Limit: limit})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleAuthSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string            `json:"email"`
		Password string            `json:"password"`
		Profile  map[string]string `json:"profile"`
	}
	if !readBody(w, r, &body) {
		return
	}

	user, err := s.service.SignUp(r.Context(), backend.Credentials{Email: body.Email, Password: body.Password}, body.Profile)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"userId":  user.ID,
		"email":   user.Email,
		"message": "Registration successful",
	})
}

func (s *HTTPServer) handleAuthSignIn(w http.ResponseWriter, r *http.Request) {
	var body backend.Credentials
	if !readBody(w, r, &body) {
		return
	}
	session, err := s.service.SignIn(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session.payload())
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return Session{}, false
	}
	return session, true
}

// fail maps err to a response and logs anything that is not the caller's
// fault.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("request_id", requestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", reqID)

		next.ServeHTTP(writer, r)

		metrics.HTTPRequests.WithLabelValues(r.Method, strconv.Itoa(writer.status)).Inc()
		s.logger.Info("request",
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Int64("duration_ms", time.Since(started).Milliseconds()),
		)
	})
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the WebSocket handler take over the connection through the
// recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

const maxBodyBytes = 1 << 20

// decodeBody reads one JSON value. An empty body leaves target untouched.
func decodeBody(r *http.Request, target any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	defer r.Body.Close()
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(target)
	switch {
	case err == nil, errors.Is(err, io.EOF):
		return nil
	default:
		return fmt.Errorf("invalid JSON body")
	}
}

// readBody is decodeBody for handlers: it answers 400 itself and reports
// whether to continue.
func readBody(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := decodeBody(r, target); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return false
	}
	return true
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
