// Package session runs OCR requests against a single Tesseract engine handle.
//
// A Controller moves through the states
//
//	Uninitialized -> Ready <-> Recognizing
//	any state     -> Released (terminal)
//
// Images and languages can only be changed while Ready. Recognitions are strictly
// sequential: a second Recognize while one is in flight fails instead of queueing.
package session

import (
	"context"
	"expvar"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/johbar/ocr-workbench/internal/imageinput"
	"github.com/johbar/ocr-workbench/pkg/tesswrap"
)

var (
	recognitionsStarted   = expvar.NewInt("ocr_recognitions_started")
	recognitionsSucceeded = expvar.NewInt("ocr_recognitions_succeeded")
	recognitionsFailed    = expvar.NewInt("ocr_recognitions_failed")
)

type State int

const (
	StateUninitialized State = iota
	StateReady
	StateRecognizing
	StateReleased
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateRecognizing:
		return "recognizing"
	case StateReleased:
		return "released"
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// EngineFactory acquires a fresh engine handle, e.g. [tesswrap.New]
type EngineFactory func() (tesswrap.Engine, error)

// PostProcessor rewrites recognized text before it is returned, e.g. for dehyphenation
type PostProcessor func(text string) (string, error)

// Result is the outcome of one successful recognition
type Result struct {
	Text string `json:"text"`
	// Mean word confidence in [0, 1]; 0 if the engine does not report it
	Confidence    float64       `json:"confidence"`
	Language      string        `json:"language"`
	Backend       string        `json:"backend"`
	EngineVersion string        `json:"engineVersion,omitempty"`
	MediaType     string        `json:"mediaType"`
	Width         int           `json:"width,omitempty"`
	Height        int           `json:"height,omitempty"`
	Duration      time.Duration `json:"duration"`
}

type Controller struct {
	newEngine   EngineFactory
	log         *slog.Logger
	postprocess PostProcessor

	mu       sync.Mutex
	state    State
	engine   tesswrap.Engine
	observer Observer
	image    imageinput.Image
	lang     string
	result   *Result
	last     ProgressEvent
	// cancels the recognition in flight
	cancel context.CancelFunc
	// closed when the recognition in flight has returned
	done chan struct{}
}

type Option func(*Controller)

// WithLogger sets the logger. Without it nothing is logged.
func WithLogger(log *slog.Logger) Option {
	return func(c *Controller) {
		if log != nil {
			c.log = log
		}
	}
}

// WithLanguage sets the language used until SetLanguage is called
func WithLanguage(lang string) Option {
	return func(c *Controller) { c.lang = lang }
}

// WithPostProcessor sets a function applied to every recognized text
func WithPostProcessor(p PostProcessor) Option {
	return func(c *Controller) { c.postprocess = p }
}

// New returns an uninitialized Controller.
// The engine is acquired by Initialize, not here.
func New(newEngine EngineFactory, opts ...Option) *Controller {
	c := &Controller{
		newEngine: newEngine,
		log:       slog.New(slog.DiscardHandler),
		lang:      "eng",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Initialize acquires the engine handle and registers observer for progress events.
// observer may be nil. It fails with ErrEngineInit if the engine can not be created
// and with ErrPrecondition if the Controller is not Uninitialized.
func (c *Controller) Initialize(observer Observer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateUninitialized {
		return preconditionf("initialize in state %s", c.state)
	}
	if c.newEngine == nil {
		return fmt.Errorf("%w: no engine factory", ErrEngineInit)
	}
	eng, err := c.newEngine()
	if err != nil {
		c.log.Error("Engine could not be created", "err", err)
		return fmt.Errorf("%w: %w", ErrEngineInit, err)
	}
	if eng == nil {
		return fmt.Errorf("%w: engine factory returned nil", ErrEngineInit)
	}
	c.engine = eng
	c.observer = observer
	c.state = StateReady
	c.log.Info("Session initialized", "backend", eng.Name(), "lang", c.lang)
	return nil
}

// SetImage replaces the image to recognize. The content is not checked here;
// an unreadable image makes Recognize fail with ErrEngineRuntime.
func (c *Controller) SetImage(img imageinput.Image) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady {
		return preconditionf("set image in state %s", c.state)
	}
	c.image = img
	c.log.Debug("Image set", "image", img.String())
	return nil
}

// SetLanguage sets the language for the next recognition. The code is not validated;
// an unsupported language makes Recognize fail with ErrLanguageLoad.
func (c *Controller) SetLanguage(lang string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady {
		return preconditionf("set language in state %s", c.state)
	}
	c.lang = lang
	return nil
}

// Recognize runs the engine on the current image and blocks until it is done.
// Progress is reported to the observer, the last fraction reported on success is 1.
// On failure the Controller stays Ready and the previous result is kept.
func (c *Controller) Recognize(ctx context.Context) (res Result, err error) {
	c.mu.Lock()
	if c.state != StateReady {
		state := c.state
		c.mu.Unlock()
		return Result{}, preconditionf("recognize in state %s", state)
	}
	if c.image.IsZero() {
		c.mu.Unlock()
		return Result{}, preconditionf("no image set")
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	eng, img, lang, observer := c.engine, c.image, c.lang, c.observer
	c.state, c.cancel, c.done = StateRecognizing, cancel, done
	c.last = ProgressEvent{}
	c.mu.Unlock()

	recognitionsStarted.Add(1)
	c.log.Info("Starting recognition", "image", img.String(), "lang", lang, "backend", eng.Name())
	started := time.Now()
	defer func() {
		cancel()
		c.mu.Lock()
		defer c.mu.Unlock()
		c.cancel, c.done = nil, nil
		close(done)
		if c.state == StateReleased {
			// partial results of an aborted recognition are discarded
			recognitionsFailed.Add(1)
			res, err = Result{}, preconditionf("session released during recognition")
			return
		}
		c.state = StateReady
		if err != nil {
			recognitionsFailed.Add(1)
			c.log.Warn("Recognition failed", "image", img.String(), "lang", lang, "err", err)
			res = Result{}
			return
		}
		recognitionsSucceeded.Add(1)
		kept := res
		c.result = &kept
		c.log.Info("Recognition finished", "image", img.String(), "lang", lang, "chars", len(res.Text), "duration", res.Duration)
	}()
	res, err = c.run(runCtx, eng, img, lang, newTracker(observer, c.record))
	if err == nil {
		res.Duration = time.Since(started)
	}
	return res, err
}

func (c *Controller) run(ctx context.Context, eng tesswrap.Engine, img imageinput.Image, lang string, t *tracker) (Result, error) {
	t.enter(PhaseLoadingEngine)
	if err := eng.Load(ctx); err != nil {
		return Result{}, classify(PhaseLoadingEngine, err)
	}
	t.enter(PhaseLoadingLanguage)
	if err := eng.LoadLanguage(ctx, lang); err != nil {
		return Result{}, classify(PhaseLoadingLanguage, err)
	}
	t.enter(PhaseInitializingEngine)
	if err := eng.Initialize(ctx, lang); err != nil {
		return Result{}, classify(PhaseInitializingEngine, err)
	}
	t.enter(PhaseRecognizing)
	if !img.IsImage() {
		return Result{}, fmt.Errorf("%w: %s is not an image", ErrEngineRuntime, img.MediaType())
	}
	out, err := eng.Recognize(ctx, img.Bytes(), t.report)
	if err != nil {
		return Result{}, classify(PhaseRecognizing, err)
	}
	text := out.Text
	if c.postprocess != nil {
		if text, err = c.postprocess(text); err != nil {
			return Result{}, fmt.Errorf("%w: post-processing text: %w", ErrEngineRuntime, err)
		}
	}
	res := Result{
		Text:          text,
		Confidence:    out.Confidence,
		Language:      lang,
		Backend:       eng.Name(),
		EngineVersion: eng.Version(),
		MediaType:     img.MediaType(),
	}
	if w, h, err := img.Dimensions(); err == nil {
		res.Width, res.Height = w, h
	}
	t.enter(PhaseDone)
	return res, nil
}

func (c *Controller) record(ev ProgressEvent) {
	c.mu.Lock()
	c.last = ev
	c.mu.Unlock()
}

// Release aborts a recognition in flight, waits for it to return and terminates the engine.
// It may be called any number of times and in any state.
func (c *Controller) Release(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateReleased {
		c.mu.Unlock()
		return nil
	}
	c.state = StateReleased
	eng, cancel, done := c.engine, c.cancel, c.done
	c.engine, c.observer, c.image, c.result = nil, nil, imageinput.Image{}, nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if eng == nil {
		return nil
	}
	c.log.Info("Releasing engine", "backend", eng.Name())
	if err := eng.Terminate(ctx); err != nil {
		return fmt.Errorf("terminating engine: %w", err)
	}
	return nil
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Language() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lang
}

// Image returns the current image and false if none is set
func (c *Controller) Image() (imageinput.Image, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.image, !c.image.IsZero()
}

// Result returns the result of the last successful recognition
func (c *Controller) Result() (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.result == nil {
		return Result{}, false
	}
	return *c.result, true
}

// LastProgress returns the most recent progress event of the current or last recognition
func (c *Controller) LastProgress() ProgressEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
