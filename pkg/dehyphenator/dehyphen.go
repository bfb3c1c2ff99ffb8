/*
Package dehyphenator joins words Tesseract split at the end of a line.

	A hyphen at the end of a line is removed and the word is continued on the
	next line, unless the hyphen follows an uppercase letter ("PDF-") or the next
	line starts with an uppercase letter ("Tesseract-OCR"). Both usually mean
	the hyphen is part of a compound and is kept.
*/
package dehyphenator

import (
	"bufio"
	"io"
	"strings"
	"unicode"
)

// Options control the output layout
type Options struct {
	// Replace all newlines with a single space
	RemoveNewlines bool
}

// Dehyphenate reads text from in and writes it to out,
// removing hyphens at the end of lines when appropriate.
// Leading and trailing whitespace of every line is trimmed.
func Dehyphenate(in io.Reader, out io.Writer, opts Options) error {
	w := bufio.NewWriter(out)
	s := bufio.NewScanner(in)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	// hyphen removed from the previous line, maybe to be put back
	pendingHyphen := false
	// the previous line ended with a hyphen, so the current one continues a word
	continues := false
	sep := "\n"
	if opts.RemoveNewlines {
		sep = " "
	}
	first := true
	for s.Scan() {
		line := []rune(strings.TrimSpace(strings.ReplaceAll(s.Text(), "\uFFFE", "")))
		if len(line) == 0 || (len(line) == 1 && isHyphen(line[0])) {
			if pendingHyphen {
				// nothing to join with
				w.WriteRune('-')
			}
			if !first {
				w.WriteString(sep)
			}
			if !opts.RemoveNewlines {
				w.WriteRune('\n')
			}
			first, pendingHyphen, continues = true, false, false
			continue
		}
		if continues {
			if pendingHyphen && unicode.IsUpper(line[0]) {
				w.WriteRune('-')
			}
		} else if !first {
			w.WriteString(sep)
		}
		pendingHyphen, continues = false, false
		first = false

		if n := len(line); n > 1 && isHyphen(line[n-1]) && !unicode.IsSpace(line[n-2]) {
			continues = true
			if !unicode.IsUpper(line[n-2]) {
				// dehyphenation candidate
				line = line[:n-1]
				pendingHyphen = true
			}
		}
		if _, err := w.WriteString(string(line)); err != nil {
			return err
		}
	}
	if pendingHyphen {
		w.WriteRune('-')
	}
	if err := s.Err(); err != nil {
		w.Flush()
		return err
	}
	if !first && !opts.RemoveNewlines {
		w.WriteRune('\n')
	}
	return w.Flush()
}

func isHyphen(char rune) bool {
	return unicode.Is(unicode.Hyphen, char) || char == '-'
}

// String dehyphenates in
func String(in string, opts Options) (string, error) {
	var sb strings.Builder
	err := Dehyphenate(strings.NewReader(in), &sb, opts)
	return sb.String(), err
}
