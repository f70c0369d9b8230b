package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/stemsi/exstem-assess/internal/assessment"
	"github.com/stemsi/exstem-assess/internal/config"
	"github.com/stemsi/exstem-assess/internal/database"
	"github.com/stemsi/exstem-assess/internal/logger"
	"github.com/stemsi/exstem-assess/internal/repository"
	"github.com/stemsi/exstem-assess/internal/service"
)

// Content layout:
//
//	<dir>/templates/*.xml    <item-templates> files
//	<dir>/assessments/*.xml  <assessment> documents
func main() {
	cfg := config.Load()

	var dir string
	flag.StringVar(&dir, "dir", cfg.ContentDir, "Content directory")
	flag.Parse()

	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// Redis is only needed to drop cached documents.
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Warn().Err(err).Msg("Redis unavailable; cached documents will expire on their own")
		rdb = nil
	} else {
		defer rdb.Close()
	}

	assessmentRepo := repository.NewAssessmentRepository(pool)
	documentService := service.NewDocumentService(assessmentRepo, rdb, log)

	fmt.Printf("=== Loading content from %s ===\n", dir)

	// ─── Item Templates ────────────────────────────────────────────────
	templateFiles, err := filepath.Glob(filepath.Join(dir, "templates", "*.xml"))
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid content directory")
	}
	var specs []assessment.TemplateSpec
	for _, path := range templateFiles {
		got, err := decodeFile(path, assessment.DecodeTemplates)
		if err != nil {
			log.Fatal().Err(err).Str("file", path).Msg("Failed to read templates")
		}
		specs = append(specs, got...)
	}
	if err := assessmentRepo.UpsertTemplates(ctx, specs); err != nil {
		log.Fatal().Err(err).Msg("Failed to store templates")
	}
	fmt.Printf("Stored %d templates from %d files\n", len(specs), len(templateFiles))

	catalog, err := assessmentRepo.LoadCatalog(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to reload templates")
	}

	// ─── Assessment Documents ──────────────────────────────────────────
	docFiles, err := filepath.Glob(filepath.Join(dir, "assessments", "*.xml"))
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid content directory")
	}

	successCount := 0
	for _, path := range docFiles {
		doc, err := decodeFile(path, assessment.Decode)
		if err != nil {
			fmt.Printf("Skipping %s: %v\n", filepath.Base(path), err)
			continue
		}
		if missing := missingRefs(doc, catalog); len(missing) > 0 {
			fmt.Printf("Skipping %s: unknown templates %v\n", doc.Version, missing)
			continue
		}
		if err := assessmentRepo.UpsertDocument(ctx, doc); err != nil {
			fmt.Printf("Error storing %s: %v\n", doc.Version, err)
			continue
		}
		if err := documentService.Invalidate(ctx, doc.Version); err != nil {
			log.Warn().Err(err).Str("version", doc.Version).Msg("Failed to drop cached document")
		}
		successCount++
	}

	fmt.Printf("\nLoad completed! Stored %d/%d assessments.\n", successCount, len(docFiles))
	if successCount < len(docFiles) {
		os.Exit(1)
	}
}

func decodeFile[T any](path string, decode func(r io.Reader) (T, error)) (T, error) {
	f, err := os.Open(path)
	if err != nil {
		var zero T
		return zero, err
	}
	defer f.Close()
	return decode(f)
}

// missingRefs lists template refs of doc that the catalog cannot resolve.
func missingRefs(doc *assessment.Document, cat assessment.Catalog) []string {
	var missing []string
	for _, sec := range doc.Sections {
		for _, it := range sec.Items {
			for _, ref := range it.Choices {
				if _, err := cat.Template(ref); err != nil {
					missing = append(missing, ref)
				}
			}
		}
	}
	return missing
}
