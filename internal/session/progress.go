package session

// Phase names one step of a recognition. The set is closed;
// engines never get to report their own status strings.
type Phase string

const (
	PhaseLoadingEngine      Phase = "loading engine"
	PhaseLoadingLanguage    Phase = "loading language"
	PhaseInitializingEngine Phase = "initializing engine"
	PhaseRecognizing        Phase = "recognizing text"
	PhaseDone               Phase = "done"
)

// Phases lists all phases in the order a recognition runs through them
var Phases = []Phase{PhaseLoadingEngine, PhaseLoadingLanguage, PhaseInitializingEngine, PhaseRecognizing, PhaseDone}

// share of the overall fraction each phase covers, as [start, end)
var phaseSpans = map[Phase][2]float64{
	PhaseLoadingEngine:      {0, 0.05},
	PhaseLoadingLanguage:    {0.05, 0.2},
	PhaseInitializingEngine: {0.2, 0.3},
	PhaseRecognizing:        {0.3, 1},
	PhaseDone:               {1, 1},
}

// ProgressEvent is a snapshot of a running recognition.
// Fraction covers the whole recognition, not only the current phase.
type ProgressEvent struct {
	Phase    Phase   `json:"phase"`
	Fraction float64 `json:"fraction"`
}

// Observer receives progress events. OnProgress is called on the goroutine
// running the recognition and should return quickly.
type Observer interface {
	OnProgress(ProgressEvent)
}

// ObserverFunc adapts a function to the Observer interface
type ObserverFunc func(ProgressEvent)

func (f ObserverFunc) OnProgress(ev ProgressEvent) { f(ev) }

// tracker turns per-phase engine progress into non-decreasing overall progress
type tracker struct {
	observer Observer
	// called with every emitted event
	record func(ProgressEvent)
	phase  Phase
	last   float64
	// whether anything has been emitted yet
	started bool
}

func newTracker(observer Observer, record func(ProgressEvent)) *tracker {
	return &tracker{observer: observer, record: record}
}

// enter starts a phase and emits its start fraction
func (t *tracker) enter(phase Phase) {
	t.phase = phase
	t.emit(phaseSpans[phase][0], true)
}

// report maps the engine's completion of the current phase, in [0, 1], to the overall fraction
func (t *tracker) report(fraction float64) {
	fraction = min(max(fraction, 0), 1)
	span := phaseSpans[t.phase]
	t.emit(span[0]+fraction*(span[1]-span[0]), false)
}

func (t *tracker) emit(fraction float64, phaseChanged bool) {
	fraction = max(fraction, t.last)
	if t.started && !phaseChanged && fraction == t.last {
		return
	}
	t.started = true
	t.last = fraction
	ev := ProgressEvent{Phase: t.phase, Fraction: fraction}
	if t.record != nil {
		t.record(ev)
	}
	if t.observer != nil {
		t.observer.OnProgress(ev)
	}
}
