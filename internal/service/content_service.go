package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-assess/internal/assessment"
)

// TemplateSource lists the stored item templates.
type TemplateSource interface {
	ListTemplates(ctx context.Context) ([]assessment.TemplateSpec, error)
}

// ContentService reloads assessment content into a running server.
type ContentService struct {
	templates TemplateSource
	catalog   *assessment.MemoryCatalog
	docs      *DocumentService
	log       zerolog.Logger
}

// NewContentService creates a new ContentService.
func NewContentService(templates TemplateSource, catalog *assessment.MemoryCatalog, docs *DocumentService, log zerolog.Logger) *ContentService {
	return &ContentService{
		templates: templates,
		catalog:   catalog,
		docs:      docs,
		log:       log.With().Str("component", "content_service").Logger(),
	}
}

// ContentRefresh reports what a refresh reloaded.
type ContentRefresh struct {
	Templates int `json:"templates"`
	Documents int `json:"documents_dropped"`
}

// Refresh re-reads every template into the live catalog and drops cached
// documents. Sessions already realized keep their templates.
func (s *ContentService) Refresh(ctx context.Context) (ContentRefresh, error) {
	specs, err := s.templates.ListTemplates(ctx)
	if err != nil {
		return ContentRefresh{}, fmt.Errorf("list templates: %w", err)
	}
	if err := s.catalog.AddSpecs(specs); err != nil {
		return ContentRefresh{}, fmt.Errorf("load templates: %w", err)
	}

	dropped, err := s.docs.InvalidateAll(ctx)
	if err != nil {
		return ContentRefresh{Templates: len(specs)}, err
	}

	s.log.Info().Int("templates", len(specs)).Int("documents", dropped).Msg("Content refreshed")
	return ContentRefresh{Templates: len(specs), Documents: dropped}, nil
}
