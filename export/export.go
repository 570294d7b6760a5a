// Package export writes final artifacts. Writers are idempotent: the same
// input always produces the same file, and parent directories are created
// as needed.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Writer persists text to a destination path.
type Writer interface {
	Write(text, destPath string) error
}

// Text writes plain text files.
type Text struct{}

func (Text) Write(text, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return errors.Wrap(err, "export: creating directory")
	}
	if err := os.WriteFile(destPath, []byte(text), 0o644); err != nil {
		return errors.Wrap(err, "export: writing text file")
	}
	return nil
}

// Markdown wraps light markdown content with a document header before
// writing.
type Markdown struct {
	Title     string
	Source    string
	Language  string
	Generated string
}

func (m Markdown) Write(text, destPath string) error {
	var b strings.Builder
	if m.Title != "" {
		fmt.Fprintf(&b, "# %s\n\n", m.Title)
	}
	if m.Source != "" {
		fmt.Fprintf(&b, "- Source: `%s`\n", m.Source)
	}
	if m.Language != "" {
		fmt.Fprintf(&b, "- Language: %s\n", m.Language)
	}
	if m.Generated != "" {
		fmt.Fprintf(&b, "- Generated: %s\n", m.Generated)
	}
	if b.Len() > 0 {
		b.WriteString("\n---\n\n")
	}
	b.WriteString(strings.TrimSpace(text))
	b.WriteString("\n")

	return Text{}.Write(b.String(), destPath)
}
