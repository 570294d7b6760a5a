package textchunk

import (
	"regexp"
	"strings"
)

// Section is a titled span of markdown-like text, the unit of independent
// summarization.
type Section struct {
	Title string
	Level int
	Body  string
}

var headingLine = regexp.MustCompile(`^(#{1,3})\s+(.+?)\s*$`)

// SplitSections partitions markdown-like text by heading markers (levels
// 1-3) into titled sections. Text before the first heading becomes an
// untitled section. Heading text is preserved as the section title and
// stripped from the body.
func SplitSections(markdown string) []Section {
	var sections []Section
	var cur *Section

	flush := func() {
		if cur == nil {
			return
		}
		cur.Body = strings.TrimSpace(cur.Body)
		if cur.Body != "" || cur.Title != "" {
			sections = append(sections, *cur)
		}
		cur = nil
	}

	for _, line := range strings.Split(markdown, "\n") {
		if m := headingLine.FindStringSubmatch(line); m != nil {
			flush()
			cur = &Section{Title: m[2], Level: len(m[1])}
			continue
		}
		if cur == nil {
			cur = &Section{}
		}
		cur.Body += line + "\n"
	}
	flush()
	return sections
}
