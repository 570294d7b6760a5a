package audio

import (
	"context"
	"os/exec"
)

func commandContext(ctx context.Context, name string, args []string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}
