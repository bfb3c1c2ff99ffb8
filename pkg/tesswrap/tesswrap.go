/*
Package tesswrap is a small wrapper around Tesseract OCR v5.
It defaults to using the CLI.
Alternative implementations can be selected by supplying build tags:

	gosseract       github.com/otiai10/gosseract/v2 (cgo)
	tesseract_wasm  github.com/danlock/gogosseract (Tesseract compiled to WASM)
	tesseract_lib   github.com/raff/go-tesseract (cgo)

Every implementation exposes the same [Engine] life cycle:
Load, LoadLanguage, Initialize, Recognize (repeatedly) and Terminate.
An Engine is not safe for concurrent recognition.
*/
package tesswrap

import (
	"context"
	"errors"
	"log/slog"
	"strings"
)

var (
	// ErrNotInstalled is returned by [New] if the backend can not be used at all
	ErrNotInstalled = errors.New("tesseract is not available")
	// ErrLanguageUnavailable is returned by LoadLanguage if there is no trained model for a language
	ErrLanguageUnavailable = errors.New("language model not available")
	// ErrTerminated is returned by every method of an Engine after Terminate
	ErrTerminated = errors.New("engine has been terminated")
	// ErrNotInitialized is returned by Recognize if Initialize has not succeeded before
	ErrNotInitialized = errors.New("engine has not been initialized with a language")
)

// ProgressFunc receives the completion of a single recognition in the range [0, 1].
type ProgressFunc func(fraction float64)

// Result is what an Engine returns for one image.
type Result struct {
	Text string
	// Mean word confidence in the range [0, 1]; 0 if the backend does not report it.
	Confidence float64
}

// Engine is a single stateful Tesseract instance.
type Engine interface {
	// Name returns the backend name, e.g. "cli" or "gosseract"
	Name() string
	// Version returns the Tesseract version, if known after Load
	Version() string
	// Load prepares the runtime. It is cheap to call again.
	Load(ctx context.Context) error
	// LoadLanguage makes sure the trained model(s) for lang are present.
	// lang may combine several models with '+', e.g. "eng+mon".
	LoadLanguage(ctx context.Context, lang string) error
	// Initialize (re)configures the engine to recognize lang
	Initialize(ctx context.Context, lang string) error
	// Recognize returns the text found in img, an encoded raster image
	Recognize(ctx context.Context, img []byte, progress ProgressFunc) (Result, error)
	// Terminate releases all resources. Calling it more than once is allowed.
	Terminate(ctx context.Context) error
}

// Options configure a backend
type Options struct {
	// Path or name of the tesseract executable (CLI backend only)
	TesseractPath string
	// Directory containing *.traineddata files; empty means the backend's default
	TessdataDir string
	// Page segmentation mode as understood by tesseract --psm
	PageSegMode int
	Logger      *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return o.Logger
}

// splitLangs splits a '+' separated language string and drops empty elements
func splitLangs(lang string) []string {
	var langs []string
	for _, l := range strings.Split(lang, "+") {
		if l = strings.TrimSpace(l); l != "" {
			langs = append(langs, l)
		}
	}
	return langs
}

func report(progress ProgressFunc, fraction float64) {
	if progress != nil {
		progress(fraction)
	}
}
