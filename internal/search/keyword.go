// Package search is the Search subsystem (C4): FTS5 keyword search, vector
// search, and Reciprocal Rank Fusion hybrid search with token-bounded
// progressive disclosure.
//
// Grounded on the teacher's internal/queries/search.go HybridSearch (BM25
// query plus entity-based expansion), generalized from session/entity
// fusion to observation/vector fusion per spec.md's RRF formula.
package search

import (
	"context"
	"database/sql"
	"strings"

	"github.com/laminark/laminark/internal/storage/sqlite"
	"github.com/laminark/laminark/internal/types"
)

// scopeClause builds a "<column> IN (?, ?, ...)" fragment restricted to
// scope, appending each member to args in order, mirroring
// sqlite.projectScopeClause for callers outside that package. Cross-access
// reads (spec.md §4.4) pass the caller's full scope set; an ordinary
// single-project call passes a one-element scope. An empty scope can never
// match any row.
func scopeClause(column string, scope []string, args *[]any) string {
	if len(scope) == 0 {
		return "1 = 0"
	}
	placeholders := make([]string, len(scope))
	for i, p := range scope {
		placeholders[i] = "?"
		*args = append(*args, p)
	}
	return column + " IN (" + strings.Join(placeholders, ",") + ")"
}

// Result is one scored hit from any of the three search operations.
type Result struct {
	Observation types.Observation
	Score       float64 // BM25 score (keyword) or fused RRF score (hybrid)
	Distance    float64 // cosine distance (vector search only)
	Snippet     string
	MatchType   string // "fts" | "vector" | "hybrid"; the engine's recall lookups also set "id" | "title" | "recent"
}

// KeywordOptions bounds SearchKeyword.
type KeywordOptions struct {
	Limit int
}

// sanitizeFTSQuery neutralizes unsafe characters and detects
// operator-only/syntactically-invalid expressions, per spec.md §4.4: such
// queries must yield [] without throwing.
func sanitizeFTSQuery(query string) (string, bool) {
	q := strings.TrimSpace(query)
	if q == "" {
		return "", false
	}
	// Strip characters FTS5's query syntax treats specially, keeping plain
	// terms the tokenizer can match; this also drops queries that are
	// nothing but operators (e.g. "AND OR NOT", "***", "()").
	var b strings.Builder
	for _, r := range q {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == ' ', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	cleaned := strings.Join(strings.Fields(b.String()), " ")
	if cleaned == "" {
		return "", false
	}
	for _, f := range strings.Fields(strings.ToUpper(cleaned)) {
		switch f {
		case "AND", "OR", "NOT", "NEAR":
		default:
			return cleaned, true
		}
	}
	return "", false
}

// SearchKeyword runs an FTS5 BM25 query scoped to the project hashes in
// scope (spec.md §4.4's cross-access read model — an ordinary
// single-project caller passes a one-element scope), returning snippets
// with match context. Syntactically invalid or operator-only queries
// return ([], nil) without error (spec.md §4.4, §8.6).
func SearchKeyword(ctx context.Context, store *sqlite.Store, scope []string, query string, opts KeywordOptions) ([]Result, error) {
	cleaned, ok := sanitizeFTSQuery(query)
	if !ok {
		return nil, nil
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}

	args := []any{cleaned + "*"}
	clause := scopeClause("o.project_hash", scope, &args)
	args = append(args, limit)
	rows, err := store.UnderlyingDB().QueryContext(ctx, `
		SELECT o.rowid, o.id, o.project_hash, o.content, o.title, o.source, o.session_id, o.kind,
		       o.embedding_model, o.embedding_version, o.created_at, o.updated_at,
		       bm25(observations_fts) AS score,
		       snippet(observations_fts, 0, '[', ']', '...', 10) AS snip
		FROM observations_fts
		JOIN observations o ON o.rowid = observations_fts.rowid
		WHERE observations_fts MATCH ? AND `+clause+` AND o.deleted_at IS NULL
		ORDER BY score LIMIT ?`,
		args...)
	if err != nil {
		// A still-invalid FTS5 expression reaching the engine is treated as
		// "no results" per spec.md §4.4 rather than surfaced to the caller.
		return nil, nil
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		var o types.Observation
		var title, source, sessionID, embModel, embVersion sql.NullString
		var createdAt, updatedAt, snip string
		var score float64
		if err := rows.Scan(&o.RowID, &o.ID, &o.ProjectHash, &o.Content, &title, &source, &sessionID, &o.Kind,
			&embModel, &embVersion, &createdAt, &updatedAt, &score, &snip); err != nil {
			return nil, err
		}
		o.Title, o.Source, o.SessionID = title.String, source.String, sessionID.String
		o.EmbeddingModel, o.EmbeddingVersion = embModel.String, embVersion.String
		out = append(out, Result{Observation: o, Score: score, Snippet: snip, MatchType: "fts"})
	}
	return out, rows.Err()
}
