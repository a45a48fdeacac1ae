// README: WebSocket endpoints for booking chat and live provider location, plus chat history.
package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"quickassist/internal/config"
	"quickassist/internal/http/middleware"
	"quickassist/internal/logging"
	"quickassist/internal/modules/realtime"
)

type RealtimeHandler struct {
	svc      *realtime.Service
	upgrader websocket.Upgrader
	buffer   int
	pump     realtime.PumpOptions
	log      logrus.FieldLogger
}

func NewRealtimeHandler(svc *realtime.Service, cfg config.RealtimeConfig, allowedOrigins []string, log logrus.FieldLogger) *RealtimeHandler {
	return &RealtimeHandler{
		svc: svc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		buffer: cfg.SendBuffer,
		pump:   realtime.PumpOptions{WriteWait: cfg.WriteWait, PongWait: cfg.PongWait},
		log:    logging.Component(log, "ws"),
	}
}

// originChecker allows requests without an Origin header (native clients) and
// browser origins from the configured list. "*" allows everything.
func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

func (h *RealtimeHandler) Chat(c *gin.Context)     { h.serve(c, realtime.KindChat) }
func (h *RealtimeHandler) Location(c *gin.Context) { h.serve(c, realtime.KindLocation) }

// serve admits the caller against the current booking row before upgrading,
// so rejected callers get a plain HTTP error.
func (h *RealtimeHandler) serve(c *gin.Context, kind realtime.Kind) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	p := middleware.Caller(c)
	b, err := h.svc.Admit(c.Request.Context(), kind, id, p)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.log.WithError(err).WithField("booking_id", id).Warn("websocket upgrade failed")
		return
	}

	key := realtime.Key{Kind: kind, BookingID: b.ID}
	sess := realtime.NewSession(p.ID, h.buffer)
	hub := h.svc.Hub()
	hub.Join(key, sess)
	defer hub.Leave(key, sess)

	logger := h.log.WithFields(logrus.Fields{"booking_id": b.ID, "user_id": p.ID, "kind": kind})
	logger.Debug("session opened")

	// Frames outlive the upgrade request's context.
	ctx := context.WithoutCancel(c.Request.Context())
	realtime.Serve(conn, sess, h.pump, logger, func(raw []byte) {
		switch kind {
		case realtime.KindChat:
			h.svc.HandleChatFrame(ctx, b, p.ID, raw)
		case realtime.KindLocation:
			h.svc.HandleLocationFrame(ctx, b, p.ID, raw)
		}
	})
	logger.Debug("session closed")
}

// Messages returns stored chat history, ascending by seq. ?after_seq pages forward.
func (h *RealtimeHandler) Messages(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var after int64
	if raw := c.Query("after_seq"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			writeError(c, http.StatusBadRequest, "invalid after_seq")
			return
		}
		after = n
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(c, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	msgs, err := h.svc.History(c.Request.Context(), id, middleware.Caller(c), after, limit)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, msgs)
}
