package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/atotto/clipboard"
	"github.com/go-json-experiment/json"
	"github.com/johbar/ocr-workbench/internal/config"
	"github.com/johbar/ocr-workbench/internal/imageinput"
	"github.com/johbar/ocr-workbench/internal/session"
	"github.com/johbar/ocr-workbench/pkg/tesswrap"
	"github.com/schollz/progressbar/v3"
)

// runOneShot recognizes a single image given on the command line and prints the text to stdout.
// When the path is "-", the image is read from Stdin. The return value is the exit code.
func runOneShot(ctx context.Context, cfg *config.WorkbenchConfig, args []string) int {
	fs := flag.NewFlagSet("ocr-workbench", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: ocr-workbench [flags] <image|->\n")
		fs.PrintDefaults()
	}
	lang := fs.String("lang", cfg.DefaultLanguage, "Tesseract language code, e.g. eng, mon or eng+mon")
	copyText := fs.Bool("copy", false, "Copy the recognized text to the clipboard")
	printMeta := fs.Bool("json", false, "Print the result metadata as JSON on the first line")
	quiet := fs.Bool("quiet", false, "Do not draw a progress bar")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 2
	}
	path := fs.Arg(0)
	// stdout carries the text, so logs go to stderr
	log := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: max(cfg.LogLevel, slog.LevelWarn)}))

	img, err := imageinput.FromPath(path, cfg.MaxImageSizeBytes)
	if err != nil {
		log.Error("Could not read image", "path", path, "err", err)
		return 1
	}
	if !img.IsImage() {
		log.Error("Not an image", "path", path, "mediaType", img.MediaType())
		return 1
	}

	var observer session.Observer
	var bar *progressbar.ProgressBar
	if !*quiet {
		bar = progressbar.NewOptions(100,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription("starting"),
			progressbar.OptionSetWidth(30),
			progressbar.OptionClearOnFinish(),
		)
		observer = session.ObserverFunc(func(ev session.ProgressEvent) {
			bar.Describe(string(ev.Phase))
			bar.Set(int(ev.Fraction * 100))
		})
	}

	ctrl := newController(cfg, engineOptions(cfg, log), log)
	if err := ctrl.Initialize(observer); err != nil {
		log.Error("OCR engine unavailable", "backend", tesswrap.BackendName, "err", err)
		return 1
	}
	defer ctrl.Release(context.Background())
	if err := ctrl.SetLanguage(*lang); err != nil {
		log.Error("Could not select language", "lang", *lang, "err", err)
		return 1
	}
	if err := ctrl.SetImage(img); err != nil {
		log.Error("Could not select image", "err", err)
		return 1
	}
	res, err := ctrl.Recognize(ctx)
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		log.Error("Recognition failed", "path", path, "lang", *lang, "err", err)
		return 2
	}

	if *printMeta {
		if err := json.MarshalWrite(os.Stdout, metadataMap(res, img)); err != nil {
			log.Error("Could not print metadata", "err", err)
			return 1
		}
		if _, err := io.WriteString(os.Stdout, "\n"); err != nil {
			log.Error("Could not write to output", "err", err)
			return 1
		}
	}
	if _, err := io.WriteString(os.Stdout, res.Text+"\n"); err != nil {
		log.Error("Could not write to output", "err", err)
		return 1
	}
	if *copyText {
		if clipboard.Unsupported {
			log.Warn("No clipboard available on this system")
		} else if err := clipboard.WriteAll(res.Text); err != nil {
			log.Warn("Could not copy text to clipboard", "err", err)
		}
	}
	return 0
}

func metadataMap(res session.Result, img imageinput.Image) map[string]any {
	return map[string]any{
		"origin":        img.Origin(),
		"mediaType":     res.MediaType,
		"width":         res.Width,
		"height":        res.Height,
		"language":      res.Language,
		"backend":       res.Backend,
		"engineVersion": res.EngineVersion,
		"confidence":    res.Confidence,
		"durationMs":    res.Duration.Milliseconds(),
	}
}
