package rules

import "testing"

func TestScoreLeadHighPriority(t *testing.T) {
	lead := Lead{
		CompanySize: 500,
		Industry:    "technology",
		Role:        "VP Engineering",
		Budget:      50000,
		Timeline:    "immediate",
	}
	result := ScoreLead(lead)
	if result.Score < 70 {
		t.Fatalf("expected score >= 70, got %d", result.Score)
	}
	if result.Score != 100 {
		t.Fatalf("all criteria met should yield the maximum score, got %d", result.Score)
	}
	if result.Priority != PriorityHigh {
		t.Fatalf("expected high priority, got %s", result.Priority)
	}
}

func TestScoreLeadLowPriority(t *testing.T) {
	lead := Lead{
		CompanySize: 10,
		Industry:    "retail",
		Role:        "Manager",
		Budget:      1000,
		Timeline:    "researching",
	}
	result := ScoreLead(lead)
	if result.Score >= 40 {
		t.Fatalf("expected score < 40, got %d", result.Score)
	}
	if result.Priority != PriorityLow {
		t.Fatalf("expected low priority, got %s", result.Priority)
	}
}

func TestScoreLeadEmptyLead(t *testing.T) {
	result := ScoreLead(Lead{})
	if result.Score != 0 {
		t.Fatalf("missing fields must not contribute, got score %d", result.Score)
	}
	if result.Priority != PriorityLow {
		t.Fatalf("expected low priority for empty lead, got %s", result.Priority)
	}
}

// 每个条件单独命中都只会抬高分数，绝不会降低。
func TestScoreLeadMonotonicPerCriterion(t *testing.T) {
	base := Lead{CompanySize: 50, Industry: "retail", Role: "analyst", Budget: 500, Timeline: "later"}
	baseline := ScoreLead(base).Score

	upgrades := []struct {
		name string
		lead Lead
	}{
		{"company_size", Lead{CompanySize: 500, Industry: base.Industry, Role: base.Role, Budget: base.Budget, Timeline: base.Timeline}},
		{"industry", Lead{CompanySize: base.CompanySize, Industry: "finance", Role: base.Role, Budget: base.Budget, Timeline: base.Timeline}},
		{"role", Lead{CompanySize: base.CompanySize, Industry: base.Industry, Role: "Sales Director", Budget: base.Budget, Timeline: base.Timeline}},
		{"budget", Lead{CompanySize: base.CompanySize, Industry: base.Industry, Role: base.Role, Budget: 20000, Timeline: base.Timeline}},
		{"timeline", Lead{CompanySize: base.CompanySize, Industry: base.Industry, Role: base.Role, Budget: base.Budget, Timeline: "immediate"}},
	}
	for _, upgrade := range upgrades {
		score := ScoreLead(upgrade.lead).Score
		if score <= baseline {
			t.Fatalf("criterion %s should increase the score: baseline %d, got %d", upgrade.name, baseline, score)
		}
	}
}

func TestScoreLeadRoleMatchIsCaseInsensitive(t *testing.T) {
	withRole := func(role string) int {
		return ScoreLead(Lead{Role: role}).Score
	}
	if withRole("engineering DIRECTOR") != weightRole {
		t.Fatalf("uppercase director should match")
	}
	if withRole("vp of sales") != weightRole {
		t.Fatalf("lowercase vp should match")
	}
	if withRole("accountant") != 0 {
		t.Fatalf("unrelated role must not score")
	}
}

func TestDetermineSequence(t *testing.T) {
	high := DetermineSequence(PriorityHigh)
	if len(high) != 3 || high[0] != "immediate_call" {
		t.Fatalf("unexpected high priority sequence: %v", high)
	}
	medium := DetermineSequence(PriorityMedium)
	if len(medium) != 5 {
		t.Fatalf("unexpected medium priority sequence: %v", medium)
	}
	low := DetermineSequence(PriorityLow)
	if len(low) != 4 {
		t.Fatalf("unexpected low priority sequence: %v", low)
	}
	fallback := DetermineSequence(Priority("unknown"))
	if len(fallback) != 1 || fallback[0] != "add_to_nurture" {
		t.Fatalf("unknown priority must fall back to the single-step default, got %v", fallback)
	}
}
