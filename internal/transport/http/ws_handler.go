package http

import (
	"context"
	"errors"
	stdhttp "net/http"
	"slices"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/wirechat-dm/internal/config"
	"github.com/vovakirdan/wirechat-dm/internal/core"
	"github.com/vovakirdan/wirechat-dm/internal/session"
	"github.com/vovakirdan/wirechat-dm/internal/utils"
)

const writeTimeout = 10 * time.Second

var (
	errHeartbeatTimeout = errors.New("heartbeat timeout")
	errConnClosed       = errors.New("connection closed")
)

// WSHandler upgrades HTTP connections and bridges them to a session.Handler.
type WSHandler struct {
	deps session.Deps
	cfg  *config.Config
	log  *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(deps Deps, cfg *config.Config, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{
		deps: session.Deps{
			Registry: deps.Registry,
			Router:   deps.Router,
			Verifier: deps.Auth,
			History:  deps.Store,
		},
		cfg: cfg,
		log: logger,
	}
}

func (h *WSHandler) acceptOptions() *websocket.AcceptOptions {
	if len(h.cfg.AllowedOrigins) == 0 || slices.Contains(h.cfg.AllowedOrigins, "*") {
		return &websocket.AcceptOptions{InsecureSkipVerify: true}
	}
	patterns := make([]string, 0, len(h.cfg.AllowedOrigins))
	for _, origin := range h.cfg.AllowedOrigins {
		origin = strings.TrimPrefix(origin, "https://")
		origin = strings.TrimPrefix(origin, "http://")
		patterns = append(patterns, origin)
	}
	return &websocket.AcceptOptions{OriginPatterns: patterns}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	conn, err := websocket.Accept(w, r, h.acceptOptions())
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	if h.cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.cfg.MaxMessageBytes)
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := core.NewConn(utils.NewID(), h.cfg.SendQueueSize, h.cfg.LiveBufferSize)
	handler := session.NewHandler(c, h.deps, session.Config{
		HistoryLimit:       h.cfg.HistoryLimit,
		RateLimitPerMinute: h.cfg.RateLimitPerMinute,
	}, h.log)
	defer handler.Close(ctx)

	log := h.log.With().Str("conn_id", c.ID()).Logger()
	log.Debug().Str("remote", r.RemoteAddr).Msg("ws connected")

	// A token in the query string registers right away.
	if token := r.URL.Query().Get("token"); token != "" {
		if err := handler.Register(ctx, token); err != nil {
			log.Debug().Err(err).Msg("query token rejected")
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return h.readLoop(gctx, conn, handler, &log) })
	g.Go(func() error { return h.writeLoop(gctx, conn, c) })
	g.Go(func() error { return h.heartbeat(gctx, conn, c) })
	err = g.Wait()

	status, reason := closeStatus(err)
	switch {
	case status == websocket.StatusInternalError:
		log.Warn().Err(err).Msg("ws connection closed with error")
	case errors.Is(err, errHeartbeatTimeout):
		log.Info().Msg("ws connection idle, closing")
	default:
		log.Debug().Err(err).Msg("ws disconnected")
	}
	_ = conn.Close(status, reason)
}

func closeStatus(err error) (websocket.StatusCode, string) {
	switch {
	case err == nil, errors.Is(err, session.ErrDisconnect), errors.Is(err, context.Canceled):
		return websocket.StatusNormalClosure, "closing"
	case errors.Is(err, errHeartbeatTimeout):
		return websocket.StatusPolicyViolation, errHeartbeatTimeout.Error()
	case errors.Is(err, errConnClosed):
		return websocket.StatusGoingAway, "closing"
	}
	switch s := websocket.CloseStatus(err); s {
	case -1:
		return websocket.StatusInternalError, "internal error"
	default:
		return s, "closing"
	}
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, handler *session.Handler, log *zerolog.Logger) error {
	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		if err := handler.OnEvent(ctx, raw); err != nil {
			if errors.Is(err, session.ErrDisconnect) {
				return err
			}
			log.Debug().Err(err).Msg("inbound event failed")
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, c *core.Conn) error {
	for {
		for {
			ev, ok := c.Next()
			if !ok {
				break
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, outboundFromEvent(ev, time.Now()))
			cancel()
			if err != nil {
				return err
			}
		}

		select {
		case <-c.Ready():
		case <-c.Done():
			return errConnClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// heartbeat pings the client and closes connections that stop answering.
func (h *WSHandler) heartbeat(ctx context.Context, conn *websocket.Conn, c *core.Conn) error {
	interval := h.cfg.HeartbeatInterval
	timeout := h.cfg.HeartbeatTimeout
	if interval <= 0 || timeout <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if c.IdleFor(now) > timeout {
				return errHeartbeatTimeout
			}
			pctx, cancel := context.WithTimeout(ctx, interval)
			err := conn.Ping(pctx)
			cancel()
			if err == nil {
				c.Touch()
			} else if ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}
}
