package workflow

import (
	"fmt"
	"strings"

	"gae-orchestrator/internal/engine"
)

// ExistingEnginesError aborts a run before its retry loop when engines are
// already deployed.
type ExistingEnginesError struct {
	Engines []engine.Engine
}

func (e *ExistingEnginesError) Error() string {
	parts := make([]string, 0, len(e.Engines))
	for _, eng := range e.Engines {
		size := eng.Size
		if size == "" {
			size = "unknown"
		}
		parts = append(parts, fmt.Sprintf("%s (%s)", eng.ID, size))
	}
	return fmt.Sprintf("Engines already running: %s. Delete them first or risk multiple billing charges.", strings.Join(parts, ", "))
}

// PanicError wraps a panic recovered during an attempt.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("unexpected panic: %v", e.Value)
}
