/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package api

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/loqalabs/loqa-lectern/internal/corpus"
	"github.com/loqalabs/loqa-lectern/internal/inference"
	"github.com/loqalabs/loqa-lectern/internal/logging"
	"github.com/loqalabs/loqa-lectern/internal/security"
)

// SemanticLimit is the number of results an operator search returns.
const SemanticLimit = 10

// Search result sources.
const (
	SearchSemantic = "semantic"
	SearchKeyword  = "keyword"
)

// EmbedderSource yields the resident embedding engine, or nil before the
// models have loaded.
type EmbedderSource interface {
	Engine() *inference.Engine
}

// CorpusHandler serves reference lookup, search and browsing.
type CorpusHandler struct {
	index  *corpus.Index
	models EmbedderSource
}

// NewCorpusHandler creates a corpus handler. models may be nil, which
// limits search to keywords.
func NewCorpusHandler(index *corpus.Index, models EmbedderSource) *CorpusHandler {
	return &CorpusHandler{index: index, models: models}
}

// TranslationsResponse lists loaded translations.
type TranslationsResponse struct {
	Translations []string `json:"translations"`
	Active       string   `json:"active"`
	Semantic     bool     `json:"semantic_enabled"`
}

// SearchResponse carries ranked search results.
type SearchResponse struct {
	Query   string         `json:"query"`
	Source  string         `json:"source"`
	Results []corpus.Match `json:"results"`
}

type translationRequest struct {
	Translation string `json:"translation"`
}

// HandleTranslations handles GET /api/corpus/translations
func (h *CorpusHandler) HandleTranslations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, h.translations())
}

// HandleActiveTranslation handles POST /api/corpus/translation
func (h *CorpusHandler) HandleActiveTranslation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req translationRequest
	if err := readJSON(r, &req); err != nil {
		badRequest(w, "Invalid JSON")
		return
	}
	code := strings.TrimSpace(req.Translation)
	if err := security.ValidateTranslationCode(code); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.index.SetActiveTranslation(code); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.translations())
}

func (h *CorpusHandler) translations() TranslationsResponse {
	return TranslationsResponse{
		Translations: h.index.Translations(),
		Active:       h.index.ActiveTranslation(),
		Semantic:     h.index.SemanticEnabled(),
	}
}

// HandleLookup handles GET /api/corpus/lookup?book=&chapter=&verse=&translation=
func (h *CorpusHandler) HandleLookup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	book, chapter, verse, ok := locatorParams(w, r)
	if !ok {
		return
	}
	rec, found := h.index.Lookup(book, chapter, verse, r.URL.Query().Get("translation"))
	if !found {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "Verse not found"})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// HandleNext handles GET /api/corpus/next?book=&chapter=&verse=&translation=
func (h *CorpusHandler) HandleNext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	book, chapter, verse, ok := locatorParams(w, r)
	if !ok {
		return
	}
	rec, found := h.index.Next(book, chapter, verse, r.URL.Query().Get("translation"))
	if !found {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "No following verse"})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// HandleSearch handles GET /api/corpus/search?q=&translation=. An empty
// translation or "all" searches every translation.
func (h *CorpusHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		badRequest(w, "q is required")
		return
	}
	records := h.index.KeywordSearch(query, r.URL.Query().Get("translation"))
	writeJSON(w, http.StatusOK, SearchResponse{Query: query, Source: SearchKeyword, Results: keywordMatches(records)})
}

// HandleSemantic handles GET /api/corpus/semantic?q=. It ranks verses by
// meaning and falls back to a keyword search across all translations when
// no embedding is available.
func (h *CorpusHandler) HandleSemantic(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		badRequest(w, "q is required")
		return
	}

	if matches, ok := h.semantic(r.Context(), query); ok {
		writeJSON(w, http.StatusOK, SearchResponse{Query: query, Source: SearchSemantic, Results: matches})
		return
	}

	records := h.index.KeywordSearch(query, corpus.AllTranslations)
	writeJSON(w, http.StatusOK, SearchResponse{Query: query, Source: SearchKeyword, Results: keywordMatches(records)})
}

func (h *CorpusHandler) semantic(ctx context.Context, query string) ([]corpus.Match, bool) {
	if h.models == nil || !h.index.SemanticEnabled() {
		return nil, false
	}
	engine := h.models.Engine()
	if engine == nil {
		return nil, false
	}

	embedding, err := engine.Embed(ctx, query)
	if err != nil {
		logging.LogWarn("Semantic search unavailable, using keywords",
			zap.String("query", security.SanitizeLogInput(query)),
			zap.Error(err))
		return nil, false
	}

	matches := h.index.SemanticTopN(embedding, SemanticLimit)
	return matches, matches != nil
}

// HandleBooks handles GET /api/corpus/books?translation=
func (h *CorpusHandler) HandleBooks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(h.index.Books(r.URL.Query().Get("translation"))))
}

// HandleChapters handles GET /api/corpus/chapters?book=&translation=
func (h *CorpusHandler) HandleChapters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	book := strings.TrimSpace(r.URL.Query().Get("book"))
	if book == "" {
		badRequest(w, "book is required")
		return
	}
	writeJSON(w, http.StatusOK, nonNil(h.index.Chapters(book, r.URL.Query().Get("translation"))))
}

// HandleVerses handles GET /api/corpus/verses?book=&chapter=&translation=
func (h *CorpusHandler) HandleVerses(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	book := strings.TrimSpace(r.URL.Query().Get("book"))
	if book == "" {
		badRequest(w, "book is required")
		return
	}
	chapter, ok := requireInt(w, r, "chapter")
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, nonNil(h.index.Verses(book, chapter, r.URL.Query().Get("translation"))))
}

func locatorParams(w http.ResponseWriter, r *http.Request) (book string, chapter, verse int, ok bool) {
	book = strings.TrimSpace(r.URL.Query().Get("book"))
	if book == "" {
		badRequest(w, "book is required")
		return "", 0, 0, false
	}
	if chapter, ok = requireInt(w, r, "chapter"); !ok {
		return "", 0, 0, false
	}
	if verse, ok = requireInt(w, r, "verse"); !ok {
		return "", 0, 0, false
	}
	return book, chapter, verse, true
}

// keywordMatches wraps keyword hits as score-less matches.
func keywordMatches(records []corpus.Record) []corpus.Match {
	matches := make([]corpus.Match, 0, len(records))
	for _, rec := range records {
		matches = append(matches, corpus.Match{Record: rec})
	}
	return matches
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
