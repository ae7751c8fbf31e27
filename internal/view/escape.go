// Package view projects the cached file set onto user-defined directory
// trees. Each view owns a path template and escaping rules; files appear as
// hardlinks into the shared blob store, so the same content can live in any
// number of views without extra storage.
package view

import (
	"strings"
	"unicode"

	"github.com/fknorr/studip-client/internal/model"
)

// Look-alike substitutes for characters that cannot appear in a path
// component. Division slash and ratio colon read almost like the originals.
const (
	similarSlash = "∕"
	similarColon = "∶"
)

// transliterations maps characters without a direct ASCII equivalent to
// their conventional ASCII spelling. Applied before any ASCII filtering.
var transliterations = map[rune]string{
	'ä': "ae", 'ö': "oe", 'ü': "ue",
	'Ä': "Ae", 'Ö': "Oe", 'Ü': "Ue",
	'ß': "ss",
}

// unsafeChars are characters that are path separators or otherwise awkward
// in file names on common filesystems.
const unsafeChars = "/\\:*?\"<>|"

// EscapeFileName rewrites a single path component so it is safe under the
// view's charset and escape mode. Unicode+Similar swaps slash and colon for
// visually similar substitutes and leaves everything else alone; Typeable
// replaces unsafe characters with dashes; CamelCase and SnakeCase rebuild
// the name from its words. Ascii and Identifier charsets transliterate
// umlauts first and then drop or rewrite anything outside the charset.
func EscapeFileName(name string, charset model.Charset, mode model.EscapeMode) string {
	if charset != model.CharsetUnicode {
		name = transliterate(name)
	}

	switch mode {
	case model.EscapeSimilar:
		if charset == model.CharsetUnicode {
			name = strings.NewReplacer("/", similarSlash, ":", similarColon).Replace(name)
		} else {
			name = dashUnsafe(name)
		}
	case model.EscapeTypeable:
		name = dashUnsafe(name)
	case model.EscapeCamelCase:
		name = joinCamel(splitWords(name))
	case model.EscapeSnakeCase:
		name = joinSnake(splitWords(name))
	}

	return filterCharset(name, charset)
}

func transliterate(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if repl, ok := transliterations[r]; ok {
			b.WriteString(repl)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func dashUnsafe(s string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(unsafeChars, r) {
			return '-'
		}
		return r
	}, s)
}

// splitWords breaks a name into its letter/digit runs.
func splitWords(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func joinCamel(words []string) string {
	var b strings.Builder
	for _, w := range words {
		runes := []rune(w)
		b.WriteRune(unicode.ToUpper(runes[0]))
		b.WriteString(string(runes[1:]))
	}
	return b.String()
}

func joinSnake(words []string) string {
	for i, w := range words {
		words[i] = strings.ToLower(w)
	}
	return strings.Join(words, "_")
}

// filterCharset enforces the charset after mode-specific rewriting. Unicode
// passes everything through except control characters and stray separators.
// Ascii keeps printable ASCII. Identifier keeps letters, digits and
// underscores, rewriting anything else to a single underscore.
func filterCharset(s string, charset model.Charset) string {
	switch charset {
	case model.CharsetAscii:
		return strings.Map(func(r rune) rune {
			if r < 0x20 || r >= 0x7f || r == '/' {
				return -1
			}
			return r
		}, s)
	case model.CharsetIdentifier:
		var b strings.Builder
		lastUnderscore := false
		for _, r := range s {
			ok := r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
			if ok {
				b.WriteRune(r)
				lastUnderscore = r == '_'
			} else if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
		return strings.Trim(b.String(), "_")
	default:
		return strings.Map(func(r rune) rune {
			if r < 0x20 || r == '/' {
				return -1
			}
			return r
		}, s)
	}
}
