package session

import "testing"

func TestTrackerIsMonotonic(t *testing.T) {
	var got []ProgressEvent
	tr := newTracker(ObserverFunc(func(ev ProgressEvent) { got = append(got, ev) }), nil)
	tr.enter(PhaseLoadingEngine)
	tr.enter(PhaseLoadingLanguage)
	tr.enter(PhaseInitializingEngine)
	tr.enter(PhaseRecognizing)
	for _, f := range []float64{0, 0.5, 0.5, 0.2, -1, 2} {
		tr.report(f)
	}
	tr.enter(PhaseDone)

	want := []ProgressEvent{
		{PhaseLoadingEngine, 0},
		{PhaseLoadingLanguage, 0.05},
		{PhaseInitializingEngine, 0.2},
		{PhaseRecognizing, 0.3},
		{PhaseRecognizing, 0.65},
		{PhaseRecognizing, 1},
		{PhaseDone, 1},
	}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i].Phase != want[i].Phase || diff(got[i].Fraction, want[i].Fraction) > 1e-9 {
			t.Errorf("event %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

func diff(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}
