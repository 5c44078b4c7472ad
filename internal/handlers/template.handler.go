package handlers

import (
	"context"
	"errors"

	"github.com/brightsend/campaign-dispatcher/internal/model"
	"github.com/brightsend/campaign-dispatcher/internal/services"
	xhttp "github.com/brightsend/campaign-dispatcher/pkg/http"
	"github.com/fasthttp/router"
)

type TemplateService interface {
	Create(ctx context.Context, t *model.Template) (*model.Template, error)
	Get(ctx context.Context, id int64) (*model.Template, error)
}

type TemplateHandler struct {
	svc TemplateService
}

func RegisterTemplateRoutes(e *router.Group, h *TemplateHandler) {
	e.POST("/templates", h.CreateTemplate)
	e.GET("/templates/{id}", h.GetTemplate)
}

func NewTemplateHandler(templateService TemplateService) *TemplateHandler {
	return &TemplateHandler{svc: templateService}
}

type createTemplateRequest struct {
	Name          string                 `json:"name"`
	HTMLContent   string                 `json:"html_content"`
	Variables     map[string]interface{} `json:"variables"`
	LogoURL       string                 `json:"logo_url"`
	BackgroundURL string                 `json:"background_url"`
}

func (h *TemplateHandler) CreateTemplate(ctx *xhttp.RequestCtx) {
	var req createTemplateRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}

	t, err := h.svc.Create(ctx, &model.Template{
		Name:          req.Name,
		HTMLContent:   req.HTMLContent,
		Variables:     req.Variables,
		LogoURL:       req.LogoURL,
		BackgroundURL: req.BackgroundURL,
	})
	if err != nil {
		writeError(ctx, 400, err.Error())
		return
	}
	writeJSON(ctx, 201, t)
}

func (h *TemplateHandler) GetTemplate(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, 400, "invalid template id")
		return
	}

	t, err := h.svc.Get(ctx, id)
	if err != nil {
		if errors.Is(err, services.ErrTemplateNotFound) {
			writeError(ctx, 404, err.Error())
			return
		}
		writeError(ctx, 500, err.Error())
		return
	}
	writeJSON(ctx, 200, t)
}
