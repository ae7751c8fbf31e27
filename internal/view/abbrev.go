package view

import (
	"strings"
)

// Abbreviate derives a short form of a course name or type for path
// templates. A trailing numeral word ("2", "II") is split off and kept as a
// suffix. Names of three or more words become their initials; shorter names
// keep the first three letters of the leading word.
func Abbreviate(name string) string {
	words := strings.Fields(name)
	if len(words) == 0 {
		return ""
	}

	suffix := ""
	if len(words) > 1 && isNumeral(words[len(words)-1]) {
		suffix = words[len(words)-1]
		words = words[:len(words)-1]
	}

	var abbrev string
	if len(words) >= 3 {
		var b strings.Builder
		for _, w := range words {
			b.WriteRune([]rune(w)[0])
		}
		abbrev = b.String()
	} else {
		runes := []rune(words[0])
		if len(runes) > 3 {
			runes = runes[:3]
		}
		abbrev = string(runes)
	}

	if suffix != "" {
		abbrev += " " + suffix
	}
	return abbrev
}

// isNumeral reports whether a word is an arabic number or an uppercase roman
// numeral.
func isNumeral(word string) bool {
	arabic, roman := true, true
	for _, r := range word {
		if r < '0' || r > '9' {
			arabic = false
		}
		if !strings.ContainsRune("IVXLCDM", r) {
			roman = false
		}
	}
	return arabic || roman
}
