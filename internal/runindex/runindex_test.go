package runindex

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/forgehq/taskforge/pkg/models"
)

func TestAppendThenSearchPreservesNonEmbeddingFields(t *testing.T) {
	idx := New(t.TempDir())
	entry := models.RunIndexEntry{
		RunID:         "run-1",
		Timestamp:     time.Now(),
		SpecialistIDs: []string{"engineering"},
		PromptPrefix:  "fix the bug in the parser",
		Summary:       "fixed parser bug",
		RoutingMethod: models.RoutingKeywordFallback,
		ModelName:     "quality",
	}
	if err := idx.Append(entry); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := idx.Search("parser", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].RunID != "run-1" || got[0].Summary != "fixed parser bug" {
		t.Fatalf("got %+v", got)
	}
}

func TestSearchIsCaseInsensitiveAndNewestFirst(t *testing.T) {
	idx := New(t.TempDir())
	older := models.RunIndexEntry{RunID: "a", Timestamp: time.Now().Add(-time.Hour), PromptPrefix: "Refactor the Auth module"}
	newer := models.RunIndexEntry{RunID: "b", Timestamp: time.Now(), PromptPrefix: "refactor the billing module"}
	_ = idx.Append(older)
	_ = idx.Append(newer)

	got, err := idx.Search("REFACTOR", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 || got[0].RunID != "b" {
		t.Fatalf("got %+v", got)
	}
}

func TestCosineZeroVectorReturnsZero(t *testing.T) {
	if got := Cosine([]float64{0, 0, 0}, []float64{1, 2, 3}); got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
	if got := Cosine(nil, []float64{1}); got != 0 {
		t.Fatalf("expected 0 for empty vector, got %v", got)
	}
}

func TestCosinePropertiesAreSymmetricAndBounded(t *testing.T) {
	params := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(params)

	vecGen := gen.SliceOfN(4, gen.Float64Range(-10, 10))

	properties.Property("symmetric", prop.ForAll(
		func(a, b []float64) bool {
			return approxEqual(Cosine(a, b), Cosine(b, a))
		},
		vecGen, vecGen,
	))

	properties.Property("bounded in [-1, 1]", prop.ForAll(
		func(a, b []float64) bool {
			c := Cosine(a, b)
			return c >= -1.0001 && c <= 1.0001
		},
		vecGen, vecGen,
	))

	properties.TestingRun(t)
}

func approxEqual(a, b float64) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff < 1e-9
}
