package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// fileNameReplacer removes punctuation the delivery surface rejects in
// document names and maps separators to safe substitutes.
var fileNameReplacer = strings.NewReplacer(
	"(", "", ")", "", ",", "", "…", "", ".", "", "’", "", "!", "",
	`"`, "", "?", "", "»", "", "«", "", "'", "", ":", "",
	"—", "-", "–", "-",
	"*", "", "<", "", ">", "", "|", "",
	"/", "_", "\\", "_",
	"№", "N",
	" ", "_", "\u00a0", "_",
)

// NormalizeFileName builds the deliverable file name for a book:
// author short names joined by "_", then "_-_", then the title, transliterated
// to ASCII with unsafe punctuation removed, followed by ".<format>". Control
// characters are dropped and any other non-ASCII rune becomes "_".
// Empty metadata yields just the extension.
func NormalizeFileName(title string, authorShortNames []string, format string) string {
	var b strings.Builder
	authors := make([]string, 0, len(authorShortNames))
	for _, name := range authorShortNames {
		if name = strings.TrimSpace(name); name != "" {
			authors = append(authors, name)
		}
	}
	if len(authors) > 0 {
		b.WriteString(strings.Join(authors, "_"))
		b.WriteString("_-_")
	}
	b.WriteString(strings.TrimSuffix(title, " "))

	stem := Transliterate(b.String())
	stem = fileNameReplacer.Replace(stem)
	stem = FoldDiacritics(stem)
	stem = asciiOnly(stem)
	return stem + "." + strings.ToLower(strings.TrimSpace(format))
}

// FoldDiacritics strips combining marks so "á" becomes "a".
func FoldDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// asciiOnly drops control characters and replaces every rune that survived
// transliteration and folding outside ASCII with "_".
func asciiOnly(s string) string {
	out, _, err := transform.String(runes.Map(func(r rune) rune {
		switch {
		case unicode.IsControl(r):
			return -1
		case r > unicode.MaxASCII:
			return '_'
		default:
			return r
		}
	}), s)
	if err != nil {
		return s
	}
	return out
}

// AuthorShortName renders "Last F M" from an author's name parts, skipping
// absent parts.
func AuthorShortName(last, first, middle string) string {
	parts := make([]string, 0, 3)
	if last = strings.TrimSpace(last); last != "" {
		parts = append(parts, last)
	}
	for _, given := range []string{first, middle} {
		given = strings.TrimSpace(given)
		if given == "" {
			continue
		}
		r := []rune(given)
		parts = append(parts, string(r[0]))
	}
	return strings.Join(parts, " ")
}

// AuthorFullName renders "Last First Middle", skipping absent parts.
func AuthorFullName(last, first, middle string) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{last, first, middle} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// IsSafeFileName reports whether name can be used as a bare staged file name.
func IsSafeFileName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, "/\\\x00")
}
