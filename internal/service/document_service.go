package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-assess/internal/assessment"
	"github.com/stemsi/exstem-assess/internal/config"
)

// DocumentCacheTTL bounds how long an encoded document stays in Redis.
const DocumentCacheTTL = time.Hour

var ErrAssessmentNotFound = errors.New("assessment not found")

// DocumentStore is the persistent source of assessment documents.
type DocumentStore interface {
	GetDocumentXML(ctx context.Context, version string) ([]byte, error)
}

// DocumentService resolves assessment versions to parsed documents. It
// keeps parsed documents in memory and the encoded XML in Redis.
type DocumentService struct {
	repo DocumentStore
	rdb  *redis.Client
	log  zerolog.Logger

	mu   sync.RWMutex
	docs map[string]*assessment.Document
}

// NewDocumentService creates a new DocumentService. rdb may be nil, in
// which case every miss goes to the repository.
func NewDocumentService(repo DocumentStore, rdb *redis.Client, log zerolog.Logger) *DocumentService {
	return &DocumentService{
		repo: repo,
		rdb:  rdb,
		log:  log.With().Str("component", "document_service").Logger(),
		docs: make(map[string]*assessment.Document),
	}
}

// Document returns the parsed document of version.
func (s *DocumentService) Document(ctx context.Context, version string) (*assessment.Document, error) {
	s.mu.RLock()
	doc, ok := s.docs[version]
	s.mu.RUnlock()
	if ok {
		return doc, nil
	}

	raw, err := s.load(ctx, version)
	if err != nil {
		return nil, err
	}
	doc, err = assessment.DecodeBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", version, err)
	}

	s.mu.Lock()
	if cur, ok := s.docs[version]; ok {
		doc = cur
	} else {
		s.docs[version] = doc
	}
	s.mu.Unlock()
	return doc, nil
}

func (s *DocumentService) load(ctx context.Context, version string) ([]byte, error) {
	key := config.CacheKey.AssessmentDocumentKey(version)
	if s.rdb != nil {
		raw, err := s.rdb.Get(ctx, key).Bytes()
		if err == nil {
			return raw, nil
		}
		if !errors.Is(err, redis.Nil) {
			s.log.Warn().Err(err).Str("version", version).Msg("Document cache read failed")
		}
	}

	raw, err := s.repo.GetDocumentXML(ctx, version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAssessmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load document %s: %w", version, err)
	}

	if s.rdb != nil {
		if err := s.rdb.Set(ctx, key, raw, DocumentCacheTTL).Err(); err != nil {
			s.log.Warn().Err(err).Str("version", version).Msg("Document cache write failed")
		}
	}
	return raw, nil
}

// Invalidate drops version from both caches.
func (s *DocumentService) Invalidate(ctx context.Context, version string) error {
	s.mu.Lock()
	delete(s.docs, version)
	s.mu.Unlock()
	if s.rdb == nil {
		return nil
	}
	return s.rdb.Del(ctx, config.CacheKey.AssessmentDocumentKey(version)).Err()
}

// InvalidateAll drops every cached document. Redis keys are found with
// SCAN so a large cache does not block the server.
func (s *DocumentService) InvalidateAll(ctx context.Context) (int, error) {
	s.mu.Lock()
	n := len(s.docs)
	s.docs = make(map[string]*assessment.Document)
	s.mu.Unlock()
	if s.rdb == nil {
		return n, nil
	}

	iter := s.rdb.Scan(ctx, 0, config.CacheKey.AssessmentDocumentKey("*"), 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return n, fmt.Errorf("scan document cache: %w", err)
	}
	if len(keys) == 0 {
		return n, nil
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return n, fmt.Errorf("drop document cache: %w", err)
	}
	return max(n, len(keys)), nil
}
