package irisfast

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Egress sends text replies over HTTP or WebSocket.
type Egress interface {
	SendText(ctx context.Context, room, message string) error
}

type transportMode string

const (
	transportHTTP transportMode = "http"
	transportWS   transportMode = "ws"
	transportAuto transportMode = "auto"
)

var errNoTransport = errors.New("egress transport not available")

// NewEgress picks a transport by mode. In auto mode WS is preferred while connected
// and a failed WS write falls back to HTTP once.
func NewEgress(mode string, dryrun bool, c *Client, ws *WebSocket, logger *zap.Logger) Egress {
	if logger == nil {
		logger = zap.NewNop()
	}
	var fw frameWriter
	if ws != nil {
		fw = ws
	}
	switch transportMode(mode) {
	case transportWS:
		return &wsEgress{ws: fw, dryrun: dryrun, logger: logger}
	case transportAuto:
		return &autoEgress{ws: &wsEgress{ws: fw, dryrun: dryrun, logger: logger}, http: &httpEgress{c: c, dryrun: dryrun, logger: logger}, logger: logger}
	default:
		return &httpEgress{c: c, dryrun: dryrun, logger: logger}
	}
}

type httpEgress struct {
	c      *Client
	dryrun bool
	logger *zap.Logger
}

func (h *httpEgress) SendText(ctx context.Context, room, message string) error {
	if h == nil || h.c == nil {
		return errNoTransport
	}
	if h.dryrun {
		h.logger.Info("http_egress_dryrun", zap.String("room", room), zap.Int("len", len(message)))
		return nil
	}
	return h.c.SendMessage(ctx, room, message)
}

type wsEgress struct {
	ws     frameWriter
	dryrun bool
	logger *zap.Logger
}

func (w *wsEgress) SendText(ctx context.Context, room, message string) error {
	if w == nil || w.ws == nil {
		return errNoTransport
	}
	if w.dryrun {
		w.logger.Info("ws_egress_dryrun", zap.String("room", room), zap.Int("len", len(message)))
		return nil
	}
	return w.ws.WriteJSON(ctx, &ReplyRequest{Type: "text", Room: room, Data: message})
}

type autoEgress struct {
	ws     *wsEgress
	http   *httpEgress
	logger *zap.Logger
}

func (a *autoEgress) SendText(ctx context.Context, room, message string) error {
	if a.ws != nil && a.ws.ws != nil && a.ws.ws.Connected() {
		err := a.ws.SendText(ctx, room, message)
		if err == nil {
			return nil
		}
		a.logger.Warn("egress_fallback", zap.String("room", room), zap.Error(err))
	}
	return a.http.SendText(ctx, room, message)
}
