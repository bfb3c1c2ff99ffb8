package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/johbar/ocr-workbench/internal/imageinput"
	"github.com/johbar/ocr-workbench/pkg/dehyphenator"
	"github.com/johbar/ocr-workbench/pkg/tesswrap"
)

// fakeEngine "recognizes" any decodable image as a fixed text
type fakeEngine struct {
	mu         sync.Mutex
	text       string
	langs      []string
	lang       string
	terminated int
	// if not nil, Recognize signals started and waits for release or ctx
	started chan struct{}
	release chan struct{}
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{text: "HELLO WORLD", langs: []string{"eng", "mon"}}
}

func (e *fakeEngine) Name() string    { return "fake" }
func (e *fakeEngine) Version() string { return "0.0" }

func (e *fakeEngine) Load(ctx context.Context) error { return nil }

func (e *fakeEngine) LoadLanguage(ctx context.Context, lang string) error {
	if !slices.Contains(e.langs, lang) {
		return fmt.Errorf("%w: %s", tesswrap.ErrLanguageUnavailable, lang)
	}
	return nil
}

func (e *fakeEngine) Initialize(ctx context.Context, lang string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lang = lang
	return nil
}

func (e *fakeEngine) Recognize(ctx context.Context, img []byte, progress tesswrap.ProgressFunc) (tesswrap.Result, error) {
	progress(0)
	if e.started != nil {
		close(e.started)
		select {
		case <-e.release:
		case <-ctx.Done():
			return tesswrap.Result{}, ctx.Err()
		}
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(img)); err != nil {
		return tesswrap.Result{}, fmt.Errorf("pixReadMem: %w", err)
	}
	progress(0.5)
	// engines may report less than before; the controller must not pass that on
	progress(0.25)
	progress(1)
	return tesswrap.Result{Text: e.text, Confidence: 0.9}, nil
}

func (e *fakeEngine) Terminate(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.terminated++
	return nil
}

type recorder struct {
	mu     sync.Mutex
	events []ProgressEvent
}

func (r *recorder) OnProgress(ev ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) Events() []ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

func validPng(t *testing.T) imageinput.Image {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 40, 10))
	img.Set(3, 3, color.White)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	in, err := imageinput.FromBytes(buf.Bytes(), "valid.png")
	if err != nil {
		t.Fatal(err)
	}
	return in
}

func newController(t *testing.T, eng *fakeEngine, opts ...Option) (*Controller, *recorder) {
	t.Helper()
	c := New(func() (tesswrap.Engine, error) { return eng, nil }, opts...)
	rec := &recorder{}
	if err := c.Initialize(rec); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Release(context.Background()) })
	return c, rec
}

func TestRecognize(t *testing.T) {
	c, rec := newController(t, newFakeEngine())
	if err := c.SetImage(validPng(t)); err != nil {
		t.Fatal(err)
	}
	if err := c.SetLanguage("eng"); err != nil {
		t.Fatal(err)
	}
	res, err := c.Recognize(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "HELLO WORLD" {
		t.Errorf("unexpected text %q", res.Text)
	}
	if res.Language != "eng" || res.Backend != "fake" || res.MediaType != "image/png" {
		t.Errorf("unexpected metadata %+v", res)
	}
	if res.Width != 40 || res.Height != 10 {
		t.Errorf("want 40x10, got %dx%d", res.Width, res.Height)
	}
	if c.State() != StateReady {
		t.Errorf("want state ready, got %s", c.State())
	}
	if stored, ok := c.Result(); !ok || stored.Text != res.Text {
		t.Errorf("result not stored: %+v", stored)
	}

	events := rec.Events()
	if len(events) == 0 {
		t.Fatal("no progress events")
	}
	for i := 1; i < len(events); i++ {
		if events[i].Fraction < events[i-1].Fraction {
			t.Errorf("fraction decreased at %d: %v", i, events)
		}
	}
	last := events[len(events)-1]
	if last.Fraction != 1 || last.Phase != PhaseDone {
		t.Errorf("want last event {done 1}, got %+v", last)
	}
	if c.LastProgress() != last {
		t.Errorf("LastProgress = %+v, want %+v", c.LastProgress(), last)
	}
	for _, ev := range events {
		if !slices.Contains(Phases, ev.Phase) {
			t.Errorf("unknown phase %q", ev.Phase)
		}
	}
}

func TestRecognizeWithoutImage(t *testing.T) {
	c, rec := newController(t, newFakeEngine())
	_, err := c.Recognize(context.Background())
	if !errors.Is(err, ErrPrecondition) {
		t.Fatalf("want ErrPrecondition, got %v", err)
	}
	if errors.Is(err, ErrEngineRuntime) || errors.Is(err, ErrLanguageLoad) {
		t.Errorf("precondition failure reported as engine error: %v", err)
	}
	if n := len(rec.Events()); n != 0 {
		t.Errorf("want no progress events, got %d", n)
	}
}

func TestUnsupportedLanguage(t *testing.T) {
	c, _ := newController(t, newFakeEngine())
	c.SetImage(validPng(t))
	if err := c.SetLanguage("xx"); err != nil {
		t.Fatalf("SetLanguage must not validate: %v", err)
	}
	_, err := c.Recognize(context.Background())
	if !errors.Is(err, ErrLanguageLoad) {
		t.Fatalf("want ErrLanguageLoad, got %v", err)
	}
	if !errors.Is(err, tesswrap.ErrLanguageUnavailable) {
		t.Errorf("engine error not wrapped: %v", err)
	}
	if c.State() != StateReady {
		t.Errorf("want state ready, got %s", c.State())
	}
	if _, ok := c.Result(); ok {
		t.Error("failed recognition produced a result")
	}
}

func TestCorruptImageThenValid(t *testing.T) {
	valid := validPng(t)
	truncated, err := imageinput.FromBytes(valid.Bytes()[:20], "truncated.png")
	if err != nil {
		t.Fatal(err)
	}
	garbage, err := imageinput.FromBytes([]byte("this is text, not pixels"), "garbage.png")
	if err != nil {
		t.Fatal(err)
	}
	for _, corrupt := range []imageinput.Image{garbage, truncated} {
		t.Run(corrupt.Origin(), func(t *testing.T) {
			c, _ := newController(t, newFakeEngine())
			if err := c.SetImage(corrupt); err != nil {
				t.Fatalf("SetImage must not decode: %v", err)
			}
			c.SetLanguage("eng")
			if _, err := c.Recognize(context.Background()); !errors.Is(err, ErrEngineRuntime) {
				t.Fatalf("want ErrEngineRuntime, got %v", err)
			}
			if c.State() != StateReady {
				t.Fatalf("want state ready, got %s", c.State())
			}
			if err := c.SetImage(valid); err != nil {
				t.Fatal(err)
			}
			if _, err := c.Recognize(context.Background()); err != nil {
				t.Fatalf("recognition after failure: %v", err)
			}
		})
	}
}

func TestFailureKeepsPreviousResult(t *testing.T) {
	c, _ := newController(t, newFakeEngine())
	c.SetImage(validPng(t))
	first, err := c.Recognize(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	c.SetLanguage("xx")
	if _, err := c.Recognize(context.Background()); err == nil {
		t.Fatal("expected an error")
	}
	if kept, ok := c.Result(); !ok || kept.Text != first.Text {
		t.Errorf("previous result lost: %+v", kept)
	}
}

func TestReleased(t *testing.T) {
	eng := newFakeEngine()
	c, _ := newController(t, eng)
	ctx := context.Background()
	if err := c.Release(ctx); err != nil {
		t.Fatal(err)
	}
	if err := c.Release(ctx); err != nil {
		t.Errorf("second Release: %v", err)
	}
	if eng.terminated != 1 {
		t.Errorf("want engine terminated once, got %d", eng.terminated)
	}
	if c.State() != StateReleased {
		t.Errorf("want released, got %s", c.State())
	}
	checks := map[string]error{
		"SetImage":    c.SetImage(validPng(t)),
		"SetLanguage": c.SetLanguage("eng"),
		"Initialize":  c.Initialize(nil),
	}
	_, checks["Recognize"] = c.Recognize(ctx)
	for op, err := range checks {
		if !errors.Is(err, ErrPrecondition) {
			t.Errorf("%s after Release: want ErrPrecondition, got %v", op, err)
		}
	}
}

func TestBeforeInitialize(t *testing.T) {
	c := New(func() (tesswrap.Engine, error) { return newFakeEngine(), nil })
	if err := c.SetImage(validPng(t)); !errors.Is(err, ErrPrecondition) {
		t.Errorf("SetImage: want ErrPrecondition, got %v", err)
	}
	if _, err := c.Recognize(context.Background()); !errors.Is(err, ErrPrecondition) {
		t.Errorf("Recognize: want ErrPrecondition, got %v", err)
	}
	if err := c.Release(context.Background()); err != nil {
		t.Errorf("Release of uninitialized controller: %v", err)
	}
}

func TestInitializeFailure(t *testing.T) {
	fail := true
	c := New(func() (tesswrap.Engine, error) {
		if fail {
			return nil, tesswrap.ErrNotInstalled
		}
		return newFakeEngine(), nil
	})
	defer c.Release(context.Background())
	err := c.Initialize(nil)
	if !errors.Is(err, ErrEngineInit) || !errors.Is(err, tesswrap.ErrNotInstalled) {
		t.Fatalf("want ErrEngineInit wrapping ErrNotInstalled, got %v", err)
	}
	if c.State() != StateUninitialized {
		t.Errorf("want uninitialized, got %s", c.State())
	}
	fail = false
	if err := c.Initialize(nil); err != nil {
		t.Fatalf("retrying Initialize: %v", err)
	}
	if err := c.Initialize(nil); !errors.Is(err, ErrPrecondition) {
		t.Errorf("second Initialize: want ErrPrecondition, got %v", err)
	}
}

func TestSequentialOnly(t *testing.T) {
	eng := newFakeEngine()
	eng.started, eng.release = make(chan struct{}), make(chan struct{})
	c, _ := newController(t, eng)
	c.SetImage(validPng(t))

	errc := make(chan error, 1)
	go func() {
		_, err := c.Recognize(context.Background())
		errc <- err
	}()
	<-eng.started
	if c.State() != StateRecognizing {
		t.Errorf("want recognizing, got %s", c.State())
	}
	if _, err := c.Recognize(context.Background()); !errors.Is(err, ErrPrecondition) {
		t.Errorf("concurrent Recognize: want ErrPrecondition, got %v", err)
	}
	if err := c.SetImage(validPng(t)); !errors.Is(err, ErrPrecondition) {
		t.Errorf("SetImage while recognizing: want ErrPrecondition, got %v", err)
	}
	if err := c.SetLanguage("mon"); !errors.Is(err, ErrPrecondition) {
		t.Errorf("SetLanguage while recognizing: want ErrPrecondition, got %v", err)
	}
	close(eng.release)
	if err := <-errc; err != nil {
		t.Fatal(err)
	}
	if c.State() != StateReady {
		t.Errorf("want ready, got %s", c.State())
	}
}

func TestReleaseAbortsRecognition(t *testing.T) {
	eng := newFakeEngine()
	eng.started, eng.release = make(chan struct{}), make(chan struct{})
	c, _ := newController(t, eng)
	c.SetImage(validPng(t))

	errc := make(chan error, 1)
	go func() {
		_, err := c.Recognize(context.Background())
		errc <- err
	}()
	<-eng.started
	if err := c.Release(context.Background()); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-errc:
		if !errors.Is(err, ErrPrecondition) {
			t.Errorf("aborted Recognize: want ErrPrecondition, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Recognize did not return after Release")
	}
	if _, ok := c.Result(); ok {
		t.Error("aborted recognition produced a result")
	}
	if eng.terminated != 1 {
		t.Errorf("want engine terminated once, got %d", eng.terminated)
	}
}

func TestCallerCancellation(t *testing.T) {
	eng := newFakeEngine()
	eng.started, eng.release = make(chan struct{}), make(chan struct{})
	c, _ := newController(t, eng)
	c.SetImage(validPng(t))
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-eng.started
		cancel()
	}()
	_, err := c.Recognize(ctx)
	if !errors.Is(err, ErrEngineRuntime) || !errors.Is(err, context.Canceled) {
		t.Fatalf("want ErrEngineRuntime wrapping context.Canceled, got %v", err)
	}
	if c.State() != StateReady {
		t.Errorf("want ready, got %s", c.State())
	}
}

func TestPostProcessor(t *testing.T) {
	eng := newFakeEngine()
	eng.text = "recog-\nnition\n"
	c, _ := newController(t, eng, WithPostProcessor(func(s string) (string, error) {
		return dehyphenator.String(s, dehyphenator.Options{RemoveNewlines: true})
	}))
	c.SetImage(validPng(t))
	res, err := c.Recognize(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "recognition" {
		t.Errorf("got %q", res.Text)
	}
}

func TestDefaultLanguage(t *testing.T) {
	c := New(nil, WithLanguage("mon"))
	if c.Language() != "mon" {
		t.Errorf("want mon, got %s", c.Language())
	}
	if err := c.Initialize(nil); !errors.Is(err, ErrEngineInit) {
		t.Errorf("nil factory: want ErrEngineInit, got %v", err)
	}
}
