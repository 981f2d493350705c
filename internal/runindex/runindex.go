// Package runindex implements the cross-run index (C11): an append-only
// keyword-searchable log with optional embedding-backed semantic search,
// grounded on the teacher's internal/tools/memorysearch package (cosine
// similarity and the embeddings HTTP client with disk cache).
package runindex

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/forgehq/taskforge/pkg/models"
)

const indexFileName = "run_index.jsonl"

// Index is the shared, append-only cross-run log at a workspace root.
// Single-writer assumption is acceptable for local use, per spec §3.
type Index struct {
	path string
	mu   sync.Mutex
}

func New(workspaceRoot string) *Index {
	return &Index{path: filepath.Join(workspaceRoot, indexFileName)}
}

// Append writes one entry, truncating PromptPrefix to PromptPrefixLen
// runes if the caller didn't already.
func (idx *Index) Append(entry models.RunIndexEntry) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	entry.PromptPrefix = truncateRunes(entry.PromptPrefix, models.PromptPrefixLen)

	f, err := os.OpenFile(idx.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("runindex: open: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("runindex: marshal: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("runindex: write: %w", err)
	}
	return nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func (idx *Index) readAll() ([]models.RunIndexEntry, error) {
	f, err := os.Open(idx.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("runindex: open: %w", err)
	}
	defer f.Close()

	var entries []models.RunIndexEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e models.RunIndexEntry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Search filters by case-insensitive substring match against PromptPrefix
// and Summary, newest-first, capped at limit.
func (idx *Index) Search(query string, limit int) ([]models.RunIndexEntry, error) {
	entries, err := idx.readAll()
	if err != nil {
		return nil, err
	}
	lower := strings.ToLower(query)
	var matches []models.RunIndexEntry
	for _, e := range entries {
		if strings.Contains(strings.ToLower(e.PromptPrefix), lower) || strings.Contains(strings.ToLower(e.Summary), lower) {
			matches = append(matches, e)
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Timestamp.After(matches[j].Timestamp) })
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// Cosine is symmetric, bounded in [-1, 1], and returns 0 for any zero
// vector (no division by zero), per spec §8.
func Cosine(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// SemanticSearch ranks entries with an embedding by cosine similarity to
// the query's embedding, falling back to Search transparently when no
// entries carry an embedding or embedding the query fails.
func (idx *Index) SemanticSearch(ctx interface {
	Embed(query string) ([]float64, error)
}, query string, topK int) ([]models.RunIndexEntry, error) {
	entries, err := idx.readAll()
	if err != nil {
		return nil, err
	}
	var withEmbeddings []models.RunIndexEntry
	for _, e := range entries {
		if len(e.Embedding) > 0 {
			withEmbeddings = append(withEmbeddings, e)
		}
	}
	if len(withEmbeddings) == 0 {
		return idx.Search(query, topK)
	}

	queryVec, err := ctx.Embed(query)
	if err != nil {
		return idx.Search(query, topK)
	}

	type scored struct {
		entry models.RunIndexEntry
		score float64
	}
	scoredEntries := make([]scored, len(withEmbeddings))
	for i, e := range withEmbeddings {
		scoredEntries[i] = scored{entry: e, score: Cosine(queryVec, e.Embedding)}
	}
	sort.SliceStable(scoredEntries, func(i, j int) bool { return scoredEntries[i].score > scoredEntries[j].score })

	if topK > 0 && len(scoredEntries) > topK {
		scoredEntries = scoredEntries[:topK]
	}
	out := make([]models.RunIndexEntry, len(scoredEntries))
	for i, s := range scoredEntries {
		out[i] = s.entry
	}
	return out, nil
}
