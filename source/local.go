package source

import (
	"context"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/lectoria/conspect/progress"
)

// Local resolves references that are already paths on disk: uploaded files
// the server has spooled into the working directory.
type Local struct{}

func (Local) Supports(ref string) bool {
	return !strings.Contains(ref, "://")
}

func (Local) Resolve(_ context.Context, ref string, sink progress.Sink) (string, error) {
	info, err := os.Stat(ref)
	if err != nil {
		return "", errors.Wrap(err, "local file")
	}
	if info.IsDir() {
		return "", errors.Errorf("local file: %q is a directory", ref)
	}
	if sink != nil {
		sink.Report(100, "file ready")
	}
	return ref, nil
}
