package parser

import (
	"path"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var zettelRe = regexp.MustCompile(`^(\d{14}|\d{12})`)

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// frontmatterEnd returns the index of the first line after a leading YAML
// frontmatter block, or 0 when there is none.
func frontmatterEnd(lines []string) int {
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return 0
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			return i + 1
		}
	}
	// No closing delimiter: treat everything as body.
	return 0
}

// Frontmatter decodes the leading YAML block of text. Invalid YAML or a
// missing block yields nil.
func Frontmatter(text string) map[string]any {
	lines := SplitLines(text)
	end := frontmatterEnd(lines)
	if end == 0 {
		return nil
	}
	var fm map[string]any
	if err := yaml.Unmarshal([]byte(strings.Join(lines[1:end-1], "\n")), &fm); err != nil {
		return nil
	}
	return fm
}

// CreatedAt decides the creation date of a document: the frontmatter
// "created" field wins, then a Zettelkasten timestamp prefix on the file
// name, then fallback (the store's reported creation time).
func CreatedAt(document, text string, fallback time.Time) time.Time {
	if fm := Frontmatter(text); fm != nil {
		if t, ok := toTime(fm["created"]); ok {
			return t
		}
	}
	if m := zettelRe.FindString(path.Base(document)); m != "" {
		layout := "20060102150405"
		if len(m) == 12 {
			layout = "200601021504"
		}
		if t, err := time.ParseInLocation(layout, m, time.Local); err == nil {
			return t
		}
	}
	return fallback
}

func toTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, true
	case string:
		s := strings.TrimSpace(x)
		for _, layout := range dateLayouts {
			if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}
