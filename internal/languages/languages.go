// Package languages describes the Tesseract language codes offered to the user.
package languages

import (
	"slices"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Language is a Tesseract language code with a human readable name
type Language struct {
	Code      string `json:"code"`
	Name      string `json:"name"`
	Installed bool   `json:"installed"`
}

// scripts and other models that are not languages
var special = map[string]string{
	"osd":     "Orientation and script detection",
	"equ":     "Math / equations",
	"chi_sim": "Chinese (Simplified)",
	"chi_tra": "Chinese (Traditional)",
	"Latin":   "Latin script",
}

// Name returns an English name for a Tesseract code like "mon" or "eng+mon".
// Unknown codes are returned unchanged.
func Name(code string) string {
	parts := strings.Split(code, "+")
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		names = append(names, name(p))
	}
	return strings.Join(names, " + ")
}

func name(code string) string {
	if n, ok := special[code]; ok {
		return n
	}
	// Tesseract uses ISO 639-2/T codes, sometimes with a suffix like deu_latf
	base, _, _ := strings.Cut(code, "_")
	tag, err := language.Parse(base)
	if err != nil {
		return code
	}
	if n := display.English.Languages().Name(tag); n != "" {
		return n
	}
	return code
}

// Catalogue returns the offered codes in the configured order,
// flagging those the engine reports as installed.
// installed may be nil if the engine could not be asked.
func Catalogue(offered, installed []string) []Language {
	langs := make([]Language, 0, len(offered))
	for _, code := range offered {
		ok := installed != nil
		for _, p := range strings.Split(code, "+") {
			ok = ok && slices.Contains(installed, p)
		}
		langs = append(langs, Language{Code: code, Name: Name(code), Installed: ok})
	}
	return langs
}
