// Package storage manages the working directory: transcript checkpoints
// and intermediate drafts written before any further processing, so a
// crashed job can be picked up from the last completed stage.
package storage

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Store writes plain-text artifacts keyed by a caller-chosen title.
type Store struct {
	dir string
}

func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("storage: working directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "storage: creating working directory")
	}
	return &Store{dir: dir}, nil
}

// Dir returns the working directory root.
func (s *Store) Dir() string { return s.dir }

// SaveTranscript checkpoints a full transcript under title.
func (s *Store) SaveTranscript(title, text string) (string, error) {
	return s.write(title, text)
}

// SaveDraft checkpoints intermediate pipeline output under name.
func (s *Store) SaveDraft(name, text string) (string, error) {
	return s.write(name, text)
}

// TranscriptPath returns where a transcript for title lives, whether or
// not it exists yet.
func (s *Store) TranscriptPath(title string) string {
	return filepath.Join(s.dir, sanitize(title)+".txt")
}

// LoadTranscript reads a previously checkpointed transcript.
func (s *Store) LoadTranscript(title string) (string, error) {
	data, err := os.ReadFile(s.TranscriptPath(title))
	if err != nil {
		return "", errors.Wrapf(err, "storage: reading transcript %q", title)
	}
	return string(data), nil
}

func (s *Store) write(name, text string) (string, error) {
	path := filepath.Join(s.dir, sanitize(name)+".txt")
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return "", errors.Wrapf(err, "storage: writing %q", name)
	}
	return path, nil
}

// sanitize keeps titles usable as file names without losing readability.
func sanitize(name string) string {
	name = strings.TrimSpace(name)
	replacer := strings.NewReplacer(
		"/", "_", "\\", "_", ":", "_", "*", "_",
		"?", "_", "\"", "_", "<", "_", ">", "_", "|", "_",
	)
	name = replacer.Replace(name)
	if name == "" {
		name = "untitled"
	}
	return name
}
