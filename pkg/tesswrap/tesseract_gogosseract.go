//go:build tesseract_wasm

package tesswrap

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/danlock/gogosseract"
)

const BackendName = "wasm"

type wasmEngine struct {
	opts Options
	mu   sync.Mutex
	tess *gogosseract.Tesseract
	// trained data read by LoadLanguage, keyed by language code
	models     map[string][]byte
	lang       string
	terminated bool
}

// New returns an Engine running Tesseract compiled to WASM inside this process.
// Every language is initialized from a single traineddata file,
// so combined languages like "eng+mon" are not supported.
func New(opts Options) (Engine, error) {
	return &wasmEngine{opts: opts, models: make(map[string][]byte)}, nil
}

func (e *wasmEngine) Name() string { return BackendName }

func (e *wasmEngine) Version() string { return "5 (wasm)" }

func (e *wasmEngine) Load(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.terminated {
		return ErrTerminated
	}
	dir := e.opts.TessdataDir
	if dir == "" {
		dir = DefaultTessdataDir
	}
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("tessdata directory: %w", err)
	}
	return nil
}

func (e *wasmEngine) LoadLanguage(ctx context.Context, lang string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.terminated {
		return ErrTerminated
	}
	if _, ok := e.models[lang]; ok {
		return nil
	}
	langs := splitLangs(lang)
	if len(langs) != 1 {
		return fmt.Errorf("%w: the WASM backend supports exactly one language, got '%s'", ErrLanguageUnavailable, lang)
	}
	if err := checkTraineddata(e.opts.TessdataDir, lang); err != nil {
		return err
	}
	data, err := os.ReadFile(traineddataPath(e.opts.TessdataDir, lang))
	if err != nil {
		return fmt.Errorf("reading trained data for %s: %w", lang, err)
	}
	e.models[lang] = data
	e.opts.logger().Debug("Trained data loaded", "lang", lang, "bytes", len(data))
	return nil
}

func (e *wasmEngine) Initialize(ctx context.Context, lang string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.terminated {
		return ErrTerminated
	}
	if e.tess != nil && e.lang == lang {
		return nil
	}
	data, ok := e.models[lang]
	if !ok {
		return fmt.Errorf("%w: %s has not been loaded", ErrLanguageUnavailable, lang)
	}
	if e.tess != nil {
		if err := e.tess.Close(ctx); err != nil {
			e.opts.logger().Warn("Closing previous Tesseract instance failed", "err", err)
		}
		e.tess, e.lang = nil, ""
	}
	cfg := gogosseract.Config{
		Language:     lang,
		TrainingData: bytes.NewReader(data),
		Variables:    map[string]string{"tessedit_pageseg_mode": fmt.Sprint(e.opts.PageSegMode)},
	}
	// Tesseract is chatty on stdout and stderr
	cfg.Stderr = io.Discard
	cfg.Stdout = io.Discard
	tess, err := gogosseract.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("starting tesseract wasm: %w", err)
	}
	e.tess, e.lang = tess, lang
	return nil
}

func (e *wasmEngine) Recognize(ctx context.Context, img []byte, progress ProgressFunc) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.terminated {
		return Result{}, ErrTerminated
	}
	if e.tess == nil {
		return Result{}, ErrNotInitialized
	}
	report(progress, 0)
	if err := e.tess.LoadImage(ctx, bytes.NewReader(img), gogosseract.LoadImageOptions{}); err != nil {
		return Result{}, fmt.Errorf("load image: %w", err)
	}
	text, err := e.tess.GetText(ctx, func(percent int32) {
		report(progress, float64(percent)/100)
	})
	if err != nil {
		return Result{}, fmt.Errorf("recognize text: %w", err)
	}
	report(progress, 1)
	return Result{Text: text}, nil
}

func (e *wasmEngine) Terminate(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.terminated {
		return nil
	}
	e.terminated = true
	e.models = nil
	if e.tess == nil {
		return nil
	}
	err := e.tess.Close(ctx)
	e.tess = nil
	return err
}

// AvailableLanguages returns the languages with a traineddata file in the tessdata directory
func AvailableLanguages(ctx context.Context, opts Options) ([]string, error) {
	return listTraineddata(opts.TessdataDir)
}
