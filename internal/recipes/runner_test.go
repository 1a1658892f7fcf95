package recipes

import (
	"context"
	"sync"

	"github.com/morse-hpc/hpkg/internal/recipe"
)

type recordingRunner struct {
	mu   sync.Mutex
	cmds []recipe.Command
}

func (r *recordingRunner) Run(_ context.Context, c recipe.Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmds = append(r.cmds, c)
	return nil
}
