package media

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	maxNameBytes = 180
	fallbackName = "untitled"
)

var (
	illegalChars = regexp.MustCompile(`[<>:"/\\|?*]`)
	multiSpace   = regexp.MustCompile(`\s+`)
	multiDot     = regexp.MustCompile(`\.{2,}`)
	multiUnder   = regexp.MustCompile(`_{2,}`)
)

var cleanRunes = transform.Chain(norm.NFC, runes.Remove(runes.In(unicode.Cc)), runes.Remove(runes.In(unicode.Cf)))

// SanitizeFilename makes a platform title safe to use as a file name.
// Path separators and characters reserved on common filesystems become "_".
func SanitizeFilename(title string) string {
	name := multiSpace.ReplaceAllString(title, " ")
	if cleaned, _, err := transform.String(cleanRunes, name); err == nil {
		name = cleaned
	}
	name = illegalChars.ReplaceAllString(name, "_")
	name = multiUnder.ReplaceAllString(name, "_")
	name = multiDot.ReplaceAllString(name, ".")
	name = strings.Trim(name, " ._")
	name = truncate(name, maxNameBytes)
	name = strings.TrimRight(name, " .")
	if name == "" {
		return fallbackName
	}
	return name
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	s = s[:max]
	for !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}

// FileName derives the output file name of an item from its title and the
// declared output kind.
func FileName(title string, kind OutputKind) string {
	return SanitizeFilename(title) + kind.Extension()
}

// NameSet hands out file names that are unique within one request.
type NameSet struct {
	used map[string]struct{}
}

func NewNameSet() *NameSet {
	return &NameSet{used: make(map[string]struct{})}
}

// Unique returns name, or name with a " (n)" suffix before the extension
// when name was already handed out. Comparison ignores case.
func (s *NameSet) Unique(name string) string {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	candidate := name
	for n := 2; ; n++ {
		key := strings.ToLower(candidate)
		if _, taken := s.used[key]; !taken {
			s.used[key] = struct{}{}
			return candidate
		}
		candidate = fmt.Sprintf("%s (%d)%s", stem, n, ext)
	}
}
