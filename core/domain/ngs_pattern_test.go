package domain

import (
	"math"
	"testing"
)

func TestObserveOutcomeSuccess(t *testing.T) {
	p := PatternCache{MatchCount: 3, SuccessRate: 80}
	p.ObserveOutcome(true)

	if p.MatchCount != 4 {
		t.Errorf("match count = %d, want 4", p.MatchCount)
	}
	want := 80*(1-ewmaWeight) + 100*ewmaWeight
	if math.Abs(p.SuccessRate-want) > 1e-9 {
		t.Errorf("success rate = %v, want %v", p.SuccessRate, want)
	}
}

func TestObserveOutcomeFailureIsNotAMatch(t *testing.T) {
	p := PatternCache{MatchCount: 3, SuccessRate: 80}
	p.ObserveOutcome(false)

	if p.MatchCount != 3 {
		t.Errorf("match count = %d, a failed application must not count as a match", p.MatchCount)
	}
	want := 80 * (1 - ewmaWeight)
	if math.Abs(p.SuccessRate-want) > 1e-9 {
		t.Errorf("success rate = %v, want %v", p.SuccessRate, want)
	}
}

func TestUsable(t *testing.T) {
	p := PatternCache{SuccessRate: 70}
	if !p.Usable(70) {
		t.Error("rate at the threshold must be usable")
	}
	if p.Usable(70.1) {
		t.Error("rate below the threshold must not be usable")
	}
}
