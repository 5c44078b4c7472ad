package services

import (
	"context"
	"errors"
	"html/template"

	"github.com/brightsend/campaign-dispatcher/internal/model"
	"github.com/brightsend/campaign-dispatcher/internal/repository"
)

var (
	ErrEmptyTemplateName = errors.New("template name is required")
	ErrInvalidTemplate   = errors.New("template html does not parse")
)

type TemplateStore interface {
	Create(ctx context.Context, t *model.Template) (*model.Template, error)
	Get(ctx context.Context, id int64) (*model.Template, error)
}

type TemplateService struct {
	repo TemplateStore
}

func NewTemplateService(repo TemplateStore) *TemplateService {
	return &TemplateService{repo: repo}
}

// Create validates that the HTML parses before persisting; a broken
// template stored now fails an entire batch later.
func (s *TemplateService) Create(ctx context.Context, t *model.Template) (*model.Template, error) {
	if t.Name == "" {
		return nil, ErrEmptyTemplateName
	}
	if _, err := template.New(t.Name).Parse(t.HTMLContent); err != nil {
		return nil, ErrInvalidTemplate
	}
	return s.repo.Create(ctx, t)
}

func (s *TemplateService) Get(ctx context.Context, id int64) (*model.Template, error) {
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrTemplateNotFound) {
			return nil, ErrTemplateNotFound
		}
		return nil, err
	}
	return t, nil
}
