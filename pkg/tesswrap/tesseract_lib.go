//go:build tesseract_lib

package tesswrap

import (
	"context"
	"fmt"
	"sync"

	"github.com/raff/go-tesseract"
)

const BackendName = "lib"

// libEngine creates a libtesseract BaseAPI per recognition.
// Page segmentation is fixed to PSM_AUTO_OSD with this backend.
type libEngine struct {
	opts       Options
	mu         sync.Mutex
	lang       string
	terminated bool
}

func New(opts Options) (Engine, error) {
	if tesseract.Version() == "" {
		return nil, ErrNotInstalled
	}
	return &libEngine{opts: opts}, nil
}

func (e *libEngine) Name() string { return BackendName }

func (e *libEngine) Version() string { return tesseract.Version() }

func (e *libEngine) Load(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.terminated {
		return ErrTerminated
	}
	return nil
}

func (e *libEngine) LoadLanguage(ctx context.Context, lang string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.terminated {
		return ErrTerminated
	}
	return checkTraineddata(e.opts.TessdataDir, lang)
}

func (e *libEngine) Initialize(ctx context.Context, lang string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.terminated {
		return ErrTerminated
	}
	e.lang = lang
	return nil
}

func (e *libEngine) Recognize(ctx context.Context, img []byte, progress ProgressFunc) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.terminated {
		return Result{}, ErrTerminated
	}
	if e.lang == "" {
		return Result{}, ErrNotInitialized
	}
	report(progress, 0)
	tess := tesseract.BaseAPICreate()
	defer tess.Clear()
	if ret := tess.Init3(e.opts.TessdataDir, e.lang); ret != 0 {
		return Result{}, fmt.Errorf("%w: could not init tesseract with %s", ErrLanguageUnavailable, e.lang)
	}
	tess.SetDebugVariable("debug_file", "/dev/null")
	tess.SetPageSegMode(tesseract.PSM_AUTO_OSD)
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	tess.SetImageBytes(img)
	txt := tess.GetUTF8Text()
	report(progress, 1)
	return Result{Text: txt}, nil
}

func (e *libEngine) Terminate(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.terminated = true
	return nil
}

// AvailableLanguages returns the languages with a traineddata file in the tessdata directory
func AvailableLanguages(ctx context.Context, opts Options) ([]string, error) {
	return listTraineddata(opts.TessdataDir)
}
