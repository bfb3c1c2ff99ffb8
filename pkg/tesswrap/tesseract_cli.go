//go:build !gosseract && !tesseract_wasm && !tesseract_lib

// This is the default implementation
package tesswrap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"slices"
	"strconv"
	"strings"
	"sync"
)

// BackendName identifies the implementation compiled into this binary
const BackendName = "cli"

type cliEngine struct {
	opts  Options
	path  string
	mu    sync.Mutex
	langs []string
	// language set by Initialize
	lang       string
	version    string
	loaded     bool
	terminated bool
}

// New returns an Engine running the tesseract executable once per recognition.
// It fails with ErrNotInstalled if the executable is not found.
func New(opts Options) (Engine, error) {
	name := opts.TesseractPath
	if name == "" {
		name = "tesseract"
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotInstalled, err)
	}
	return &cliEngine{opts: opts, path: path}, nil
}

func (e *cliEngine) Name() string { return BackendName }

func (e *cliEngine) Version() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.version
}

func (e *cliEngine) args(args ...string) []string {
	if e.opts.TessdataDir != "" {
		return append([]string{"--tessdata-dir", e.opts.TessdataDir}, args...)
	}
	return args
}

func (e *cliEngine) Load(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.terminated {
		return ErrTerminated
	}
	if e.loaded {
		return nil
	}
	out, err := exec.CommandContext(ctx, e.path, "--version").Output()
	if err != nil {
		return fmt.Errorf("running %s --version: %w", e.path, err)
	}
	e.version = parseVersion(out)
	langs, err := e.listLangs(ctx)
	if err != nil {
		return err
	}
	e.langs = langs
	e.loaded = true
	e.opts.logger().Debug("Tesseract CLI loaded", "path", e.path, "version", e.version, "langs", e.langs)
	return nil
}

func (e *cliEngine) listLangs(ctx context.Context) ([]string, error) {
	out, err := exec.CommandContext(ctx, e.path, e.args("--list-langs")...).Output()
	if err != nil {
		return nil, fmt.Errorf("listing tesseract languages: %w", err)
	}
	return parseLangList(out), nil
}

func (e *cliEngine) LoadLanguage(ctx context.Context, lang string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.terminated {
		return ErrTerminated
	}
	langs := splitLangs(lang)
	if len(langs) == 0 {
		return fmt.Errorf("%w: empty language", ErrLanguageUnavailable)
	}
	for _, l := range langs {
		if !slices.Contains(e.langs, l) {
			return fmt.Errorf("%w: '%s' is not among the installed languages %v", ErrLanguageUnavailable, l, e.langs)
		}
	}
	return nil
}

func (e *cliEngine) Initialize(ctx context.Context, lang string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.terminated {
		return ErrTerminated
	}
	e.lang = lang
	return nil
}

func (e *cliEngine) Recognize(ctx context.Context, img []byte, progress ProgressFunc) (Result, error) {
	e.mu.Lock()
	lang, terminated := e.lang, e.terminated
	e.mu.Unlock()
	if terminated {
		return Result{}, ErrTerminated
	}
	if lang == "" {
		return Result{}, ErrNotInitialized
	}
	report(progress, 0)
	args := e.args("-", "-", "-l", lang, "--psm", strconv.Itoa(e.opts.PageSegMode))
	cmd := exec.CommandContext(ctx, e.path, args...)
	cmd.Stdin = bytes.NewReader(img)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Result{}, fmt.Errorf("tesseract exited with code %d: %s", exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return Result{}, err
	}
	// tesseract exits with 0 for some unreadable images, but says so on stderr
	if msg := stderr.String(); strings.Contains(msg, "Error in pixReadMem") || strings.Contains(msg, "Error during processing") {
		return Result{}, fmt.Errorf("tesseract could not read the image: %s", strings.TrimSpace(msg))
	}
	report(progress, 1)
	return Result{Text: string(out)}, nil
}

func (e *cliEngine) Terminate(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.terminated = true
	return nil
}

// AvailableLanguages returns the languages the tesseract executable has models for
func AvailableLanguages(ctx context.Context, opts Options) ([]string, error) {
	eng, err := New(opts)
	if err != nil {
		return nil, err
	}
	return eng.(*cliEngine).listLangs(ctx)
}

// parseLangList parses the output of tesseract --list-langs.
// The first line is a heading.
func parseLangList(out []byte) []string {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) < 2 {
		return []string{}
	}
	langs := make([]string, 0, len(lines)-1)
	for _, l := range lines[1:] {
		if l = strings.TrimSpace(l); l != "" {
			langs = append(langs, l)
		}
	}
	return langs
}

// parseVersion returns the version from the first line of tesseract --version,
// e.g. "tesseract 5.3.0"
func parseVersion(out []byte) string {
	first, _, _ := strings.Cut(string(out), "\n")
	first = strings.TrimSpace(first)
	if v, ok := strings.CutPrefix(first, "tesseract "); ok {
		return strings.TrimPrefix(v, "v")
	}
	return first
}
