package continuity

import (
	"reflect"
	"testing"

	"Fabelwerk/server/internal/logger"
)

func TestReconcilerCountsOutcomes(t *testing.T) {
	r := NewReconciler(logger.Nop(), nil)

	prev := &State{
		EstablishedFacts: []string{"a", "b"},
		OpenThreads:      []string{"t1", "t2", "t3"},
		CharacterStates:  map[string]string{"Lina": "mutig"},
	}
	r.Reconcile("s-1", prev, &State{EstablishedFacts: []string{"a"}}, 2, ModeNormal)
	r.Reconcile("s-1", prev, &State{}, FinalEpisode, ModeNormal)
	r.Reconcile("s-2", nil, prev, 1, ModeNormal)
	r.Reconcile("s-2", prev, nil, 2, ModeNormal)

	got := r.Metrics().Snapshot()
	want := MetricsSnapshot{
		Merges:             4,
		ThreadRegressions:  1,
		ShrinkSuppressed:   1,
		FactsRestored:      3,
		CharactersRestored: 2,
	}
	if got != want {
		t.Fatalf("metrics: want=%+v got=%+v", want, got)
	}
}

func TestReconcilerReturnsMergeResult(t *testing.T) {
	r := NewReconciler(nil, &Metrics{})
	prev := sampleState()
	next := &State{EstablishedFacts: []string{"Neu"}}

	got, report := r.Reconcile("s", prev, next, 2, ModeNormal)
	want, wantReport := Merge(prev, next, 2, ModeNormal)
	if !reflect.DeepEqual(got, want) || !reflect.DeepEqual(report, wantReport) {
		t.Fatalf("Reconcile differs from Merge")
	}
}
