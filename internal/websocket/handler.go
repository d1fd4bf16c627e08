package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"localboard/internal/auth"
	"localboard/internal/metrics"
	"localboard/internal/pipeline"
	"localboard/pkg/interfaces"
	"localboard/pkg/logger"
	"localboard/pkg/types"
)

// TokenVerifier turns a bearer token into a verified identity
type TokenVerifier interface {
	Verify(token string) (auth.Identity, error)
}

// MessageService is the part of the message pipeline driven by clients
type MessageService interface {
	Submit(ctx context.Context, conn interfaces.Connection, sub pipeline.Submission) (*types.Message, error)
	Delete(ctx context.Context, userID, messageID string) ([]string, error)
	Forget(conn interfaces.Connection)
}

// Relocator moves a user, and their live connection, to a new region
type Relocator interface {
	Migrate(ctx context.Context, userID string, conn interfaces.Connection, region types.Region) error
}

// Interactor records a user acting on a message
type Interactor interface {
	Record(ctx context.Context, userID, messageID, kind string) (*types.RelocationEvent, error)
}

// HandlerOptions tunes heartbeat and queueing. Zero values take defaults.
type HandlerOptions struct {
	PingInterval     time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	QueueSize        int
	OperationTimeout time.Duration
	MaxFrameBytes    int64
	CheckOrigin      func(r *http.Request) bool
}

func (o *HandlerOptions) defaults() {
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 2 * o.PingInterval
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.OperationTimeout <= 0 {
		o.OperationTimeout = 10 * time.Second
	}
	if o.MaxFrameBytes <= 0 {
		o.MaxFrameBytes = 64 * 1024
	}
	if o.CheckOrigin == nil {
		// FUNCTIONAL DISCOVERY: All origins allowed; the bearer token is the gate
		o.CheckOrigin = func(*http.Request) bool { return true }
	}
}

// Handler authenticates WebSocket upgrades and dispatches client frames
// ARCHITECTURAL DISCOVERY: Multi-stage admission (credential -> upgrade ->
// registry -> room) keeps invalid requests from consuming any resources
type Handler struct {
	verifier     TokenVerifier
	registry     *Registry
	rooms        interfaces.RoomRouter
	store        interfaces.Store
	messages     MessageService
	locator      Relocator
	interactions Interactor
	metrics      *metrics.Metrics
	opts         HandlerOptions
	upgrader     websocket.Upgrader
	log          *slog.Logger
}

// HandlerDeps groups the collaborators of a Handler
type HandlerDeps struct {
	Verifier     TokenVerifier
	Registry     *Registry
	Rooms        interfaces.RoomRouter
	Store        interfaces.Store
	Messages     MessageService
	Locator      Relocator
	Interactions Interactor
	Metrics      *metrics.Metrics
}

// NewHandler creates a new WebSocket handler with dependency injection
func NewHandler(deps HandlerDeps, opts HandlerOptions) *Handler {
	opts.defaults()
	return &Handler{
		verifier:     deps.Verifier,
		registry:     deps.Registry,
		rooms:        deps.Rooms,
		store:        deps.Store,
		messages:     deps.Messages,
		locator:      deps.Locator,
		interactions: deps.Interactions,
		metrics:      deps.Metrics,
		opts:         opts,
		upgrader: websocket.Upgrader{
			CheckOrigin:      opts.CheckOrigin,
			HandshakeTimeout: 10 * time.Second,
		},
		log: logger.With("component", "websocket"),
	}
}

// ServeHTTP verifies the credential, upgrades, registers the connection and
// places it in the user's stored region. Bad credentials get 401 before any
// upgrade, registry entry or room join.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, err := h.verifier.Verify(auth.TokenFromRequest(r))
	if err != nil {
		h.log.Info("websocket_auth_failed", "remote", r.RemoteAddr, "error", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket_upgrade_failed", "user", identity.UserID, "error", err)
		return
	}
	conn.SetReadLimit(h.opts.MaxFrameBytes)

	wsConn := NewConnection(conn, identity.UserID, ConnectionOptions{
		QueueSize:    h.opts.QueueSize,
		WriteTimeout: h.opts.WriteTimeout,
	})

	// FUNCTIONAL DISCOVERY: Registration evicts any older session of the same
	// user before this one becomes visible
	if err := h.registry.Register(wsConn); err != nil {
		h.log.Warn("websocket_register_failed", "user", identity.UserID, "error", err)
		_ = wsConn.Close()
		return
	}
	h.metrics.ConnectionOpened()
	h.log.Info("websocket_connected", "user", identity.UserID, "conn", wsConn.ID())

	h.joinStoredRegion(r.Context(), wsConn)

	go h.handleConnection(wsConn)
}

// joinStoredRegion subscribes a fresh connection to the room of the user's
// persisted region. Users without a region stay unlocated until they send a
// relocate frame.
func (h *Handler) joinStoredRegion(ctx context.Context, conn *Connection) {
	region, err := h.store.GetUserRegion(ctx, conn.UserID())
	if err != nil {
		h.log.Error("user_region_lookup_failed", "user", conn.UserID(), "error", err)
		h.sendError(conn, "Unable to load your location")
		return
	}
	if region.IsZero() {
		return
	}
	if err := h.rooms.Join(conn, region); err != nil {
		// An evicted connection cannot join; anything else is reported
		if conn.IsAlive() {
			h.log.Warn("room_join_failed", "user", conn.UserID(), "room", region.Key(), "error", err)
			h.sendError(conn, "Unable to join your room")
		}
		return
	}
	_ = conn.WriteJSON(types.Event{
		Type:    types.EventRoomJoined,
		Payload: types.RoomJoined{Region: region.Normalize(), Room: region.Key()},
	})
}

// handleConnection runs the heartbeat and the read pump until the client
// goes away or the connection is evicted
// ARCHITECTURAL DISCOVERY: Frames of one connection are handled one at a
// time on this goroutine, so submissions keep their order
func (h *Handler) handleConnection(conn *Connection) {
	defer h.cleanup(conn)

	readTimeout := h.opts.ReadTimeout
	if err := conn.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	go h.heartbeat(conn)

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) && conn.IsAlive() {
				h.log.Info("websocket_read_error", "user", conn.UserID(), "error", err)
			}
			return
		}
		if !conn.IsAlive() {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		h.dispatch(conn, data)
	}
}

// heartbeat pings the client and closes the socket once the connection is
// dead so the blocked reader returns
func (h *Handler) heartbeat(conn *Connection) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.opts.WriteTimeout)); err != nil {
				_ = conn.Close()
				return
			}
		case <-conn.Done():
			_ = conn.Close()
			return
		}
	}
}

func (h *Handler) cleanup(conn *Connection) {
	h.registry.Unregister(conn)
	h.rooms.Leave(conn)
	h.messages.Forget(conn)
	_ = conn.Close()
	h.metrics.ConnectionClosed()
	h.log.Info("websocket_disconnected", "user", conn.UserID(), "conn", conn.ID())
}

// dispatch decodes one client frame and runs the matching operation
func (h *Handler) dispatch(conn *Connection, data []byte) {
	var frame types.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		h.sendError(conn, ErrMalformedFrame.Error())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.opts.OperationTimeout)
	defer cancel()

	var err error
	switch frame.Type {
	case types.FrameChatMessage:
		var p types.ChatMessageFrame
		if err = decodePayload(frame.Payload, &p); err == nil {
			sub := pipeline.Submission{Body: p.Message, ParentID: p.ParentID}
			if p.AttachmentURL != "" {
				sub.Attachment = &types.Attachment{URL: p.AttachmentURL, Type: p.AttachmentType}
			}
			_, err = h.messages.Submit(ctx, conn, sub)
		}

	case types.FrameDeleteMessage:
		var p types.DeleteMessageFrame
		if err = decodePayload(frame.Payload, &p); err == nil {
			_, err = h.messages.Delete(ctx, conn.UserID(), p.ID)
		}

	case types.FrameInteract:
		var p types.InteractFrame
		if err = decodePayload(frame.Payload, &p); err == nil {
			_, err = h.interactions.Record(ctx, conn.UserID(), p.MessageID, p.Type)
		}

	case types.FrameRelocate:
		var p types.RelocateFrame
		if err = decodePayload(frame.Payload, &p); err == nil {
			err = h.locator.Migrate(ctx, conn.UserID(), conn, types.NewRegion(p.State, p.LGA))
		}

	default:
		err = ErrUnknownFrame
	}

	if err == nil || pipeline.IsRejection(err) {
		return
	}
	msg, public := publicMessage(err)
	if !public {
		h.log.Error("frame_failed", "user", conn.UserID(), "type", frame.Type, "error", err)
	}
	h.sendError(conn, msg)
}

func decodePayload(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return ErrMalformedFrame
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return ErrMalformedFrame
	}
	return nil
}

// publicErrors are safe to show to clients verbatim
var publicErrors = []error{
	ErrMalformedFrame,
	ErrUnknownFrame,
	pipeline.ErrNotLocated,
	pipeline.ErrRateLimited,
	pipeline.ErrParentNotFound,
	interfaces.ErrMessageNotFound,
	pipeline.ErrNotAuthor,
	pipeline.ErrConnectionDead,
	types.ErrInvalidRegion,
	types.ErrRegionTooLong,
	types.ErrEmptyBody,
	types.ErrBodyTooLarge,
	types.ErrInvalidMessageID,
	types.ErrInvalidInteractionType,
	types.ErrInvalidAttachment,
}

// publicMessage returns the client-facing text for err and whether err was
// a known, user-caused failure
func publicMessage(err error) (string, bool) {
	for _, known := range publicErrors {
		if errors.Is(err, known) {
			return known.Error(), true
		}
	}
	return "Something went wrong, please try again", false
}

func (h *Handler) sendError(conn interfaces.Connection, message string) {
	if err := conn.WriteJSON(types.Event{
		Type:    types.EventError,
		Payload: types.ErrorPayload{Message: message},
	}); err != nil {
		h.log.Debug("error_frame_write_failed", "user", conn.UserID(), "error", err)
	}
}
