//go:build gosseract

package tesswrap

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/otiai10/gosseract/v2"
)

const BackendName = "gosseract"

type gosseractEngine struct {
	opts       Options
	mu         sync.Mutex
	client     *gosseract.Client
	version    string
	lang       string
	terminated bool
}

// New returns an Engine backed by a single libtesseract client.
func New(opts Options) (Engine, error) {
	client := gosseract.NewClient()
	if opts.TessdataDir != "" {
		client.TessdataPrefix = opts.TessdataDir
	}
	return &gosseractEngine{opts: opts, client: client}, nil
}

func (e *gosseractEngine) Name() string { return BackendName }

func (e *gosseractEngine) Version() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.version
}

func (e *gosseractEngine) Load(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.terminated {
		return ErrTerminated
	}
	if e.version == "" {
		e.version = gosseract.Version()
		// silence tesseract's debug output
		if err := e.client.DisableOutput(); err != nil {
			return fmt.Errorf("disabling tesseract output: %w", err)
		}
	}
	return nil
}

func (e *gosseractEngine) LoadLanguage(ctx context.Context, lang string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.terminated {
		return ErrTerminated
	}
	if e.opts.TessdataDir != "" {
		return checkTraineddata(e.opts.TessdataDir, lang)
	}
	available, err := gosseract.GetAvailableLanguages()
	if err != nil {
		return fmt.Errorf("listing tesseract languages: %w", err)
	}
	langs := splitLangs(lang)
	if len(langs) == 0 {
		return fmt.Errorf("%w: empty language", ErrLanguageUnavailable)
	}
	for _, l := range langs {
		if !slices.Contains(available, l) {
			return fmt.Errorf("%w: '%s' is not among the installed languages %v", ErrLanguageUnavailable, l, available)
		}
	}
	return nil
}

func (e *gosseractEngine) Initialize(ctx context.Context, lang string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.terminated {
		return ErrTerminated
	}
	if err := e.client.SetLanguage(splitLangs(lang)...); err != nil {
		return fmt.Errorf("setting language %s: %w", lang, err)
	}
	if err := e.client.SetPageSegMode(gosseract.PageSegMode(e.opts.PageSegMode)); err != nil {
		return fmt.Errorf("setting page segmentation mode: %w", err)
	}
	e.client.Trim = true
	e.lang = lang
	return nil
}

func (e *gosseractEngine) Recognize(ctx context.Context, img []byte, progress ProgressFunc) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.terminated {
		return Result{}, ErrTerminated
	}
	if e.lang == "" {
		return Result{}, ErrNotInitialized
	}
	report(progress, 0)
	if err := e.client.SetImageFromBytes(img); err != nil {
		return Result{}, fmt.Errorf("set image: %w", err)
	}
	// libtesseract can not be interrupted; at least don't start the expensive part
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	txt, err := e.client.Text()
	if err != nil {
		return Result{}, fmt.Errorf("recognize text: %w", err)
	}
	report(progress, 0.9)
	res := Result{Text: txt, Confidence: e.meanConfidence()}
	report(progress, 1)
	return res, nil
}

func (e *gosseractEngine) meanConfidence() float64 {
	boxes, err := e.client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return 0
	}
	var sum float64
	for _, b := range boxes {
		sum += b.Confidence / 100.0
	}
	return sum / float64(len(boxes))
}

func (e *gosseractEngine) Terminate(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.terminated {
		return nil
	}
	e.terminated = true
	return e.client.Close()
}

// AvailableLanguages returns the languages libtesseract has models for
func AvailableLanguages(ctx context.Context, opts Options) ([]string, error) {
	if opts.TessdataDir != "" {
		return listTraineddata(opts.TessdataDir)
	}
	return gosseract.GetAvailableLanguages()
}
