package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"localboard/internal/auth"
	"localboard/internal/metrics"
	"localboard/internal/pipeline"
	"localboard/pkg/interfaces"
	"localboard/pkg/logger"
	"localboard/pkg/types"
)

// Query limits
const (
	DefaultFeedLimit    = 100
	DefaultSearchLimit  = 50
	DefaultQueueLimit   = 100
	DefaultProfileLimit = 100
	MaxLimit            = 500
)

// TokenVerifier turns a bearer token into a verified identity
type TokenVerifier interface {
	Verify(token string) (auth.Identity, error)
}

// Messages is the part of the message pipeline exposed over HTTP
type Messages interface {
	Delete(ctx context.Context, userID, messageID string) ([]string, error)
	ReportRejection(ctx context.Context, userID string, region types.Region, body, reason string) (*types.Flagged, error)
	Approve(ctx context.Context, flaggedID, reviewer string) (*types.Message, error)
	Dismiss(ctx context.Context, flaggedID, reviewer string) error
	Pending(ctx context.Context, limit int) ([]*types.Flagged, error)
}

// Relocator moves a user to a new region
type Relocator interface {
	Migrate(ctx context.Context, userID string, conn interfaces.Connection, region types.Region) error
}

// Interactor records a user acting on a message
type Interactor interface {
	Record(ctx context.Context, userID, messageID, kind string) (*types.RelocationEvent, error)
}

// StatsSource reports counters for the health endpoint
type StatsSource interface {
	GetStats() map[string]int
}

// Deps groups the collaborators of a Server
type Deps struct {
	Store        interfaces.Store
	Messages     Messages
	Locator      Relocator
	Interactions Interactor
	Verifier     TokenVerifier
	// IsAdmin grants moderator rights to users whose token lacks the admin role
	IsAdmin  func(userID string) bool
	Sessions StatsSource
	Rooms    StatsSource
	Metrics  *metrics.Metrics
	// WebSocket is mounted at /ws when set
	WebSocket http.Handler
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// Clean separation - no business logic, only HTTP handling and JSON serialization
type Server struct {
	deps    Deps
	router  *mux.Router
	handler http.Handler
	started time.Time
	log     *slog.Logger
}

// NewServer creates the server and sets up routing
func NewServer(deps Deps) *Server {
	s := &Server{
		deps:    deps,
		router:  mux.NewRouter(),
		started: time.Now(),
		log:     logger.With("component", "api"),
	}
	s.setupRoutes()
	s.handler = corsMiddleware(s.router)
	return s
}

// ARCHITECTURAL DISCOVERY: Route setup follows REST conventions with proper middleware
// CORS wraps the router so preflights never reach route matching; JSON and
// auth apply only to the API subtree
func (s *Server) setupRoutes() {
	s.router.Use(s.metricsMiddleware)

	s.router.Handle("/health", jsonMiddleware(http.HandlerFunc(s.healthCheck))).Methods(http.MethodGet)
	if s.deps.Metrics != nil {
		s.router.Handle("/metrics", s.deps.Metrics.Handler()).Methods(http.MethodGet)
	}
	if s.deps.WebSocket != nil {
		s.router.Handle("/ws", s.deps.WebSocket).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(jsonMiddleware, s.authMiddleware)
	api.HandleFunc("/feed", s.feed).Methods(http.MethodGet)
	api.HandleFunc("/search", s.search).Methods(http.MethodGet)
	api.HandleFunc("/location", s.relocate).Methods(http.MethodPost)
	api.HandleFunc("/interact", s.interact).Methods(http.MethodPost)
	api.HandleFunc("/profile", s.profile).Methods(http.MethodGet)
	api.HandleFunc("/messages/{id}", s.deleteMessage).Methods(http.MethodDelete)
	api.HandleFunc("/report-rejection", s.reportRejection).Methods(http.MethodPost)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(s.adminMiddleware)
	admin.HandleFunc("/flagged", s.listFlagged).Methods(http.MethodGet)
	admin.HandleFunc("/flagged/{id}/approve", s.approveFlagged).Methods(http.MethodPost)
	admin.HandleFunc("/flagged/{id}/reject", s.rejectFlagged).Methods(http.MethodPost)

	s.router.NotFoundHandler = jsonMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sendError(w, "Not found", http.StatusNotFound)
	}))
	s.router.MethodNotAllowedHandler = jsonMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}))
}

// FUNCTIONAL DISCOVERY: Implement http.Handler interface for integration with standard HTTP server
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Request/Response types for JSON serialization
type LocationRequest struct {
	State string `json:"state"`
	LGA   string `json:"lga"`
}

type LocationResponse struct {
	Region types.Region `json:"region"`
	Room   string       `json:"room"`
}

type InteractRequest struct {
	MessageID string `json:"messageId"`
	Type      string `json:"type"`
}

type InteractResponse struct {
	Recorded  bool          `json:"recorded"`
	Relocated bool          `json:"relocated"`
	Region    *types.Region `json:"region,omitempty"`
}

type ReportRequest struct {
	Message string `json:"message"`
	Reason  string `json:"reason"`
}

type FeedItem struct {
	*types.Message
	ReplyCount int `json:"reply_count"`
}

type FeedResponse struct {
	Region   types.Region `json:"region"`
	Room     string       `json:"room"`
	Messages []FeedItem   `json:"messages"`
}

type ProfileResponse struct {
	UserID       string                     `json:"userId"`
	Region       types.Region               `json:"region"`
	Room         string                     `json:"room,omitempty"`
	Interactions []*types.InteractionRecord `json:"interactions"`
}

type DeleteResponse struct {
	ID  string   `json:"id"`
	IDs []string `json:"ids"`
}

type FlaggedListResponse struct {
	Flagged []*types.Flagged `json:"flagged"`
}

type ApproveResponse struct {
	Message *types.Message `json:"message,omitempty"`
	Status  string         `json:"status"`
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Database    string         `json:"database"`
	Connections map[string]int `json:"connections"`
	Rooms       map[string]int `json:"rooms"`
	Uptime      string         `json:"uptime"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// FUNCTIONAL DISCOVERY: GET /api/feed - Room history of the caller's region, oldest first
func (s *Server) feed(w http.ResponseWriter, r *http.Request) {
	region, ok := s.callerRegion(w, r)
	if !ok {
		return
	}
	limit := queryLimit(r, DefaultFeedLimit)
	msgs, err := s.deps.Store.RoomHistory(r.Context(), region, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newFeed(region, msgs))
}

// FUNCTIONAL DISCOVERY: GET /api/search?q= - Case-insensitive search over top-level posts
func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		sendError(w, "Search query is required", http.StatusBadRequest)
		return
	}
	region, ok := s.callerRegion(w, r)
	if !ok {
		return
	}
	msgs, err := s.deps.Store.SearchRoom(r.Context(), region, q, queryLimit(r, DefaultSearchLimit))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newFeed(region, msgs))
}

func newFeed(region types.Region, msgs []*types.Message) FeedResponse {
	counts := pipeline.ReplyCounts(msgs)
	items := make([]FeedItem, 0, len(msgs))
	for _, m := range msgs {
		items = append(items, FeedItem{Message: m, ReplyCount: counts[m.ID]})
	}
	return FeedResponse{Region: region, Room: region.Key(), Messages: items}
}

// callerRegion loads the caller's stored region and answers 400 when the
// caller has none
func (s *Server) callerRegion(w http.ResponseWriter, r *http.Request) (types.Region, bool) {
	region, err := s.deps.Store.GetUserRegion(r.Context(), identityFrom(r.Context()).UserID)
	if err != nil {
		s.fail(w, r, err)
		return types.Region{}, false
	}
	if region.IsZero() {
		sendError(w, pipeline.ErrNotLocated.Error(), http.StatusBadRequest)
		return types.Region{}, false
	}
	return region, true
}

// FUNCTIONAL DISCOVERY: GET /api/profile - Stored region plus the caller's latest interactions
func (s *Server) profile(w http.ResponseWriter, r *http.Request) {
	userID := identityFrom(r.Context()).UserID
	region, err := s.deps.Store.GetUserRegion(r.Context(), userID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	records, err := s.deps.Store.UserInteractions(r.Context(), userID, queryLimit(r, DefaultProfileLimit))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if records == nil {
		records = []*types.InteractionRecord{}
	}

	resp := ProfileResponse{UserID: userID, Region: region, Interactions: records}
	if !region.IsZero() {
		resp.Room = region.Key()
	}
	writeJSON(w, http.StatusOK, resp)
}

// FUNCTIONAL DISCOVERY: POST /api/location - Explicit relocation; a live socket moves with the profile
func (s *Server) relocate(w http.ResponseWriter, r *http.Request) {
	var req LocationRequest
	if !decode(w, r, &req) {
		return
	}
	region := types.NewRegion(req.State, req.LGA)
	if err := s.deps.Locator.Migrate(r.Context(), identityFrom(r.Context()).UserID, nil, region); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, LocationResponse{Region: region, Room: region.Key()})
}

// FUNCTIONAL DISCOVERY: POST /api/interact - Records share/sent/... and follows the message's region
func (s *Server) interact(w http.ResponseWriter, r *http.Request) {
	var req InteractRequest
	if !decode(w, r, &req) {
		return
	}
	event, err := s.deps.Interactions.Record(r.Context(), identityFrom(r.Context()).UserID, req.MessageID, req.Type)
	if err != nil && event == nil {
		s.fail(w, r, err)
		return
	}
	resp := InteractResponse{Recorded: true}
	if event != nil {
		if err != nil {
			// The interaction is stored; only the follow-up move failed
			s.log.Warn("interaction_relocation_failed", "user", event.UserID, "error", err)
		} else {
			resp.Relocated = true
			resp.Region = &event.To
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// FUNCTIONAL DISCOVERY: DELETE /api/messages/{id} - Author-only thread deletion
func (s *Server) deleteMessage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ids, err := s.deps.Messages.Delete(r.Context(), identityFrom(r.Context()).UserID, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DeleteResponse{ID: id, IDs: ids})
}

// FUNCTIONAL DISCOVERY: POST /api/report-rejection - Files a contested rejection for review
func (s *Server) reportRejection(w http.ResponseWriter, r *http.Request) {
	var req ReportRequest
	if !decode(w, r, &req) {
		return
	}
	userID := identityFrom(r.Context()).UserID
	region, err := s.deps.Store.GetUserRegion(r.Context(), userID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	entry, err := s.deps.Messages.ReportRejection(r.Context(), userID, region, req.Message, req.Reason)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// FUNCTIONAL DISCOVERY: GET /api/admin/flagged - Moderation queue; ?status= selects other ledger states
func (s *Server) listFlagged(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	limit := queryLimit(r, DefaultQueueLimit)

	var (
		entries []*types.Flagged
		err     error
	)
	switch status {
	case "", types.FlagStatusPending:
		entries, err = s.deps.Messages.Pending(r.Context(), limit)
	case types.FlagStatusRejected, types.FlagStatusApproved:
		entries, err = s.deps.Store.ListFlagged(r.Context(), status, limit)
	default:
		sendError(w, "Unknown status "+strconv.Quote(status), http.StatusBadRequest)
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if entries == nil {
		entries = []*types.Flagged{}
	}
	writeJSON(w, http.StatusOK, FlaggedListResponse{Flagged: entries})
}

func (s *Server) approveFlagged(w http.ResponseWriter, r *http.Request) {
	msg, err := s.deps.Messages.Approve(r.Context(), mux.Vars(r)["id"], identityFrom(r.Context()).UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ApproveResponse{Message: msg, Status: types.FlagStatusApproved})
}

func (s *Server) rejectFlagged(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Messages.Dismiss(r.Context(), mux.Vars(r)["id"], identityFrom(r.Context()).UserID); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ApproveResponse{Status: types.FlagStatusRejected})
}

// FUNCTIONAL DISCOVERY: GET /health - System health check with component validation
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Database:  "healthy",
		Uptime:    time.Since(s.started).Round(time.Second).String(),
	}
	if err := s.deps.Store.HealthCheck(ctx); err != nil {
		resp.Status = "unhealthy"
		resp.Database = "error: " + err.Error()
	}
	if s.deps.Sessions != nil {
		resp.Connections = s.deps.Sessions.GetStats()
	}
	if s.deps.Rooms != nil {
		resp.Rooms = s.deps.Rooms.GetStats()
	}

	// FUNCTIONAL DISCOVERY: Return 503 if any component is unhealthy
	code := http.StatusOK
	if resp.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

// fail maps a domain error onto a status code. Unknown errors are logged and
// reported generically.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code, public := statusFor(err)
	if !public {
		s.log.Error("request_failed", "method", r.Method, "path", r.URL.Path, "error", err)
		sendError(w, "Internal server error", code)
		return
	}
	sendError(w, err.Error(), code)
}

var errorStatus = []struct {
	err  error
	code int
}{
	{pipeline.ErrNotAuthor, http.StatusForbidden},
	{interfaces.ErrMessageNotFound, http.StatusNotFound},
	{pipeline.ErrFlaggedNotFound, http.StatusNotFound},
	{pipeline.ErrAlreadyReviewed, http.StatusConflict},
	{pipeline.ErrNotLocated, http.StatusBadRequest},
	{pipeline.ErrEmptyReport, http.StatusBadRequest},
	{types.ErrInvalidRegion, http.StatusBadRequest},
	{types.ErrRegionTooLong, http.StatusBadRequest},
	{types.ErrBodyTooLarge, http.StatusBadRequest},
	{types.ErrInvalidMessageID, http.StatusBadRequest},
	{types.ErrInvalidUserID, http.StatusBadRequest},
	{types.ErrInvalidInteractionType, http.StatusBadRequest},
}

func statusFor(err error) (int, bool) {
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			return e.code, true
		}
	}
	return http.StatusInternalServerError, false
}

func queryLimit(r *http.Request, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return def
	}
	if n > MaxLimit {
		return MaxLimit
	}
	return n
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64*1024)).Decode(v); err != nil {
		sendError(w, "Invalid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// FUNCTIONAL DISCOVERY: Consistent error response format
func sendError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}
