package recruit

import (
	"context"
	"testing"

	"github.com/forgehq/taskforge/pkg/models"
)

func testSpecialists() []models.Specialist {
	return []models.Specialist{
		{ID: "engineering", Capabilities: []string{"coding", "testing"}},
		{ID: "research", Capabilities: []string{"research", "writing"}},
		{ID: "general", Capabilities: []string{"general"}},
	}
}

func TestGreedyCoversAndPreservesConfigOrder(t *testing.T) {
	ids := Greedy(testSpecialists(), []string{"testing", "writing"})
	if len(ids) != 2 || ids[0] != "engineering" || ids[1] != "research" {
		t.Fatalf("got %v", ids)
	}
}

func TestGreedyStopsWhenNoCandidateCoversRemaining(t *testing.T) {
	ids := Greedy(testSpecialists(), []string{"testing", "nonexistent"})
	if len(ids) != 1 || ids[0] != "engineering" {
		t.Fatalf("got %v", ids)
	}
}

func TestInferCapabilitiesCaseInsensitiveSubstring(t *testing.T) {
	kw := CapabilityKeywords{"coding": {"Bug", "implement"}}
	got := InferCapabilities("please FIX this bug in the parser", kw, []string{"coding"})
	if len(got) != 1 || got[0] != "coding" {
		t.Fatalf("got %v", got)
	}
}

func TestExplicitSpecialistIDBypassesRecruitment(t *testing.T) {
	r := &Recruiter{Specialists: testSpecialists()}
	plan, err := r.Recruit(context.Background(), models.Task{SpecialistID: "engineering"})
	if err != nil {
		t.Fatalf("Recruit: %v", err)
	}
	if plan.RoutingMethod != models.RoutingExplicit || plan.SpecialistIDs()[0] != "engineering" {
		t.Fatalf("got %+v", plan)
	}
}

func TestKeywordFallbackPicksEngineeringForCodeish(t *testing.T) {
	r := &Recruiter{Specialists: testSpecialists(), Keywords: CapabilityKeywords{}, CapOrder: nil}
	plan, err := r.Recruit(context.Background(), models.Task{Prompt: "fix this bug in the function"})
	if err != nil {
		t.Fatalf("Recruit: %v", err)
	}
	if plan.RoutingMethod != models.RoutingKeywordFallback || plan.SpecialistIDs()[0] != "engineering" {
		t.Fatalf("got %+v", plan)
	}
}

func TestMultiSpecialistPlanForcesSynthesisAndSingleForcesSequential(t *testing.T) {
	r := &Recruiter{Specialists: testSpecialists()}
	plan := r.finalise(models.OrchestrationPlan{
		Assignments: []models.Assignment{{SpecialistID: "engineering"}, {SpecialistID: "research"}},
		Mode:        models.ModeParallel,
	}, models.RoutingKeyword)
	if !plan.SynthesisRequired {
		t.Fatal("expected synthesis_required forced true for multi-specialist plan")
	}

	single := r.finalise(models.OrchestrationPlan{
		Assignments: []models.Assignment{{SpecialistID: "engineering"}},
		Mode:        models.ModeParallel,
	}, models.RoutingKeyword)
	if single.Mode != models.ModeSequential {
		t.Fatal("expected single-specialist plan forced to sequential mode")
	}
}

func TestFinaliseDropsUnknownSpecialistIDs(t *testing.T) {
	r := &Recruiter{Specialists: testSpecialists()}
	plan := r.finalise(models.OrchestrationPlan{
		Assignments: []models.Assignment{{SpecialistID: "ghost"}},
	}, models.RoutingKeyword)
	if plan.SpecialistIDs()[0] != "general" {
		t.Fatalf("expected fallback to general, got %+v", plan)
	}
}
