package handlers

import (
	"context"
	"errors"

	"github.com/brightsend/campaign-dispatcher/internal/services"
	xhttp "github.com/brightsend/campaign-dispatcher/pkg/http"
	"github.com/brightsend/campaign-dispatcher/pkg/logger"
	"github.com/fasthttp/router"
)

// trackingPixel is a 1x1 transparent GIF.
var trackingPixel = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

type TrackingService interface {
	RecordOpen(ctx context.Context, trackingID string) error
	RecordClick(ctx context.Context, trackingID, linkID string) (string, error)
}

// TrackingHandler serves the endpoints embedded into sent emails. The
// open endpoint always returns the pixel; recording is best effort so a
// storage hiccup never breaks image rendering in the recipient's client.
type TrackingHandler struct {
	svc TrackingService
}

func RegisterTrackingRoutes(r *router.Router, h *TrackingHandler) {
	r.GET("/t/o/{tid}", h.TrackOpen)
	r.GET("/t/c/{tid}/{lid}", h.TrackClick)
}

func NewTrackingHandler(trackingService TrackingService) *TrackingHandler {
	return &TrackingHandler{svc: trackingService}
}

func (h *TrackingHandler) TrackOpen(ctx *xhttp.RequestCtx) {
	tid := pathString(ctx, "tid")
	if tid != "" {
		if err := h.svc.RecordOpen(ctx, tid); err != nil && !errors.Is(err, services.ErrTrackingNotFound) {
			logger.Warn("Failed to record open", "tracking_id", tid, "error", err)
		}
	}

	ctx.Response.Header.Set("Content-Type", "image/gif")
	ctx.Response.Header.Set("Cache-Control", "no-store, no-cache, must-revalidate")
	ctx.Response.SetStatusCode(200)
	ctx.Response.SetBodyRaw(trackingPixel)
}

func (h *TrackingHandler) TrackClick(ctx *xhttp.RequestCtx) {
	tid := pathString(ctx, "tid")
	lid := pathString(ctx, "lid")

	target, err := h.svc.RecordClick(ctx, tid, lid)
	if err != nil {
		if errors.Is(err, services.ErrTrackingNotFound) {
			writeError(ctx, 404, "unknown tracking link")
			return
		}
		writeError(ctx, 500, err.Error())
		return
	}

	ctx.Response.Header.Set("Location", target)
	ctx.Response.SetStatusCode(302)
}
