package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/brightsend/campaign-dispatcher/internal/model"
	"github.com/brightsend/campaign-dispatcher/internal/services"
	xhttp "github.com/brightsend/campaign-dispatcher/pkg/http"
	"github.com/fasthttp/router"
)

type CampaignService interface {
	Create(ctx context.Context, p model.CampaignCreateRequest) (*model.Campaign, error)
	Launch(ctx context.Context, id int64) error
	Schedule(ctx context.Context, id int64, at time.Time) error
	Get(ctx context.Context, id int64) (*model.Campaign, error)
	List(ctx context.Context, f model.CampaignFilter) ([]*model.Campaign, int64, error)
}

type DeliveryLister interface {
	ListDeliveries(ctx context.Context, campaignID int64, limit, offset int) ([]*model.DeliveryLog, int64, error)
}

type CampaignHandler struct {
	svc        CampaignService
	deliveries DeliveryLister
}

func RegisterCampaignRoutes(e *router.Group, h *CampaignHandler) {
	e.POST("/campaigns", h.CreateCampaign)
	e.GET("/campaigns", h.ListCampaigns)
	e.GET("/campaigns/{id}", h.GetCampaign)
	e.POST("/campaigns/{id}/launch", h.LaunchCampaign)
	e.POST("/campaigns/{id}/schedule", h.ScheduleCampaign)
	e.GET("/campaigns/{id}/deliveries", h.ListCampaignDeliveries)
}

func NewCampaignHandler(campaignService CampaignService, deliveries DeliveryLister) *CampaignHandler {
	return &CampaignHandler{
		svc:        campaignService,
		deliveries: deliveries,
	}
}

type createCampaignRequest struct {
	Name            string                 `json:"name"`
	Subject         string                 `json:"subject"`
	TemplateID      int64                  `json:"template_id"`
	SegmentIDs      []string               `json:"segment_ids"`
	CustomFilters   map[string]interface{} `json:"custom_filters"`
	Operator        string                 `json:"operator"`
	CustomVariables map[string]interface{} `json:"custom_variables"`
	ScheduledAt     *time.Time             `json:"scheduled_at"`
}

type scheduleCampaignRequest struct {
	ScheduledAt time.Time `json:"scheduled_at"`
}

type listCampaignsResponse struct {
	Items []*model.Campaign `json:"items"`
	Total int64             `json:"total"`
}

type listDeliveriesResponse struct {
	Items []*model.DeliveryLog `json:"items"`
	Total int64                `json:"total"`
}

/* --------------------------------- Routes ----------------------------------- */

func (h *CampaignHandler) CreateCampaign(ctx *xhttp.RequestCtx) {
	var req createCampaignRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}

	p := model.CampaignCreateRequest{
		Name:            req.Name,
		Subject:         req.Subject,
		TemplateID:      req.TemplateID,
		SegmentIDs:      req.SegmentIDs,
		CustomFilters:   req.CustomFilters,
		Operator:        model.SegmentOperator(strings.ToUpper(req.Operator)),
		CustomVariables: req.CustomVariables,
		ScheduledAt:     req.ScheduledAt,
	}

	c, err := h.svc.Create(ctx, p)
	if err != nil {
		if errors.Is(err, services.ErrTemplateNotFound) {
			writeError(ctx, 404, err.Error())
			return
		}
		writeError(ctx, 400, err.Error())
		return
	}
	writeJSON(ctx, 201, c)
}

func (h *CampaignHandler) GetCampaign(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, 400, "invalid campaign id")
		return
	}

	c, err := h.svc.Get(ctx, id)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			writeError(ctx, 404, err.Error())
			return
		}
		writeError(ctx, 500, err.Error())
		return
	}
	writeJSON(ctx, 200, c)
}

func (h *CampaignHandler) LaunchCampaign(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, 400, "invalid campaign id")
		return
	}

	if err := h.svc.Launch(ctx, id); err != nil {
		switch {
		case errors.Is(err, services.ErrNotFound):
			writeError(ctx, 404, err.Error())
		case errors.Is(err, services.ErrNotLaunchable):
			writeError(ctx, 409, err.Error())
		default:
			writeError(ctx, 500, err.Error())
		}
		return
	}
	writeJSON(ctx, 202, map[string]string{"status": "queued"})
}

func (h *CampaignHandler) ScheduleCampaign(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, 400, "invalid campaign id")
		return
	}

	var req scheduleCampaignRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}
	if req.ScheduledAt.IsZero() {
		writeError(ctx, 400, "scheduled_at is required")
		return
	}

	if err := h.svc.Schedule(ctx, id, req.ScheduledAt); err != nil {
		switch {
		case errors.Is(err, services.ErrNotFound):
			writeError(ctx, 404, err.Error())
		case errors.Is(err, services.ErrNotLaunchable):
			writeError(ctx, 409, err.Error())
		default:
			writeError(ctx, 500, err.Error())
		}
		return
	}
	writeJSON(ctx, 202, map[string]string{"status": "queued", "scheduled_at": req.ScheduledAt.Format(time.RFC3339)})
}

func (h *CampaignHandler) ListCampaigns(ctx *xhttp.RequestCtx) {
	var f model.CampaignFilter

	if v := query(ctx, "status"); v != "" {
		parts := strings.Split(v, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
			if parts[i] != "" {
				f.Statuses = append(f.Statuses, model.CampaignStatus(parts[i]))
			}
		}
	}
	if v := query(ctx, "from"); v != "" {
		if t, e := parseTime(v); e == nil {
			f.From = &t
		}
	}
	if v := query(ctx, "to"); v != "" {
		if t, e := parseTime(v); e == nil {
			f.To = &t
		}
	}
	if v := query(ctx, "limit"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Limit = n
		}
	}
	if v := query(ctx, "offset"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Offset = n
		}
	}
	if strings.EqualFold(query(ctx, "order"), "desc") {
		f.Desc = true
	}

	items, total, err := h.svc.List(ctx, f)
	if err != nil {
		writeError(ctx, 400, err.Error())
		return
	}
	writeJSON(ctx, 200, listCampaignsResponse{Items: items, Total: total})
}

func (h *CampaignHandler) ListCampaignDeliveries(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, 400, "invalid campaign id")
		return
	}

	limit, offset := 50, 0
	if v := query(ctx, "limit"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			limit = n
		}
	}
	if v := query(ctx, "offset"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			offset = n
		}
	}

	items, total, err := h.deliveries.ListDeliveries(ctx, id, limit, offset)
	if err != nil {
		writeError(ctx, 500, err.Error())
		return
	}
	writeJSON(ctx, 200, listDeliveriesResponse{Items: items, Total: total})
}

/* -------------------------------- Helpers ------------------------------------ */

func readJSON(ctx *xhttp.RequestCtx, dst any) error {
	body := ctx.PostBody()
	return json.Unmarshal(body, dst)
}

func writeJSON(ctx *xhttp.RequestCtx, status int, v any) {
	b, _ := json.Marshal(v)
	ctx.Response.Header.Set("Content-Type", "application/json; charset=utf-8")
	ctx.Response.SetStatusCode(status)
	ctx.Response.SetBodyRaw(b)
}

func writeError(ctx *xhttp.RequestCtx, status int, msg string) {
	writeJSON(ctx, status, map[string]string{"error": msg})
}

func pathInt64(ctx *xhttp.RequestCtx, name string) (int64, error) {
	v, _ := ctx.UserValue(name).(string)
	return strconv.ParseInt(v, 10, 64)
}

func pathString(ctx *xhttp.RequestCtx, name string) string {
	v, _ := ctx.UserValue(name).(string)
	return v
}

func query(ctx *xhttp.RequestCtx, key string) string {
	return string(ctx.QueryArgs().Peek(key))
}

func parseTime(s string) (time.Time, error) {
	// Accept RFC3339 or YYYY-MM-DD
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}
