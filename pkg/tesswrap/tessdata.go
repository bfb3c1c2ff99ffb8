package tesswrap

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DefaultTessdataDir is where Debian and Ubuntu install Tesseract 5 models
const DefaultTessdataDir = "/usr/share/tesseract-ocr/5/tessdata"

func traineddataPath(dir, lang string) string {
	if dir == "" {
		dir = DefaultTessdataDir
	}
	return filepath.Join(dir, lang+".traineddata")
}

// checkTraineddata returns an error wrapping ErrLanguageUnavailable
// for the first language in lang that has no model file in dir.
func checkTraineddata(dir, lang string) error {
	langs := splitLangs(lang)
	if len(langs) == 0 {
		return fmt.Errorf("%w: empty language", ErrLanguageUnavailable)
	}
	for _, l := range langs {
		_, err := os.Stat(traineddataPath(dir, l))
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: no trained data for '%s' in %s", ErrLanguageUnavailable, l, filepath.Dir(traineddataPath(dir, l)))
		}
		if err != nil {
			return fmt.Errorf("checking trained data for '%s': %w", l, err)
		}
	}
	return nil
}

// listTraineddata returns the language names of all *.traineddata files in dir
func listTraineddata(dir string) ([]string, error) {
	if dir == "" {
		dir = DefaultTessdataDir
	}
	matches, err := filepath.Glob(filepath.Join(dir, "*.traineddata"))
	if err != nil {
		return nil, err
	}
	langs := make([]string, 0, len(matches))
	for _, m := range matches {
		langs = append(langs, strings.TrimSuffix(filepath.Base(m), ".traineddata"))
	}
	return langs, nil
}
