package manager

import (
	"fmt"

	"github.com/cuemby/scuttle/pkg/errdefs"
	"github.com/cuemby/scuttle/pkg/types"
)

// The from-state sets below are the control plane's legality table. Each
// operation hands its set to the store's compare-and-swap, which enforces
// it atomically; a mismatch surfaces here as an illegal-transition error
// naming the operation and the status that blocked it.
var (
	// pausableStates covers every non-terminal state except paused itself.
	// A queued or in-flight task can be paused; the broker message is not
	// drained, workers observe the status at claim time and re-ack.
	pausableStates = []types.TaskStatus{
		types.TaskStatusPending,
		types.TaskStatusQueued,
		types.TaskStatusCrawling,
		types.TaskStatusDownloaded,
		types.TaskStatusQueuedParse,
		types.TaskStatusParsing,
	}

	// cancellableStates adds paused: an operator can cancel a task they
	// previously paused.
	cancellableStates = []types.TaskStatus{
		types.TaskStatusPending,
		types.TaskStatusQueued,
		types.TaskStatusCrawling,
		types.TaskStatusDownloaded,
		types.TaskStatusQueuedParse,
		types.TaskStatusParsing,
		types.TaskStatusPaused,
	}

	// restartableStates are the terminal states a restart may revive.
	// Cancelled rows stay cancelled; resubmission creates a fresh task.
	restartableStates = []types.TaskStatus{
		types.TaskStatusFailed,
		types.TaskStatusCompleted,
	}

	// resumableStates exists for symmetry; resume only ever leaves paused.
	resumableStates = []types.TaskStatus{
		types.TaskStatusPaused,
	}

	claimCrawlStates = []types.TaskStatus{types.TaskStatusQueued}
	claimParseStates = []types.TaskStatus{types.TaskStatusQueuedParse}
)

// illegalTransition builds the error returned when a task's current status
// is outside an operation's from-state set.
func illegalTransition(op string, current types.TaskStatus) error {
	return fmt.Errorf("cannot %s task in status %s: %w", op, current, errdefs.ErrIllegalTransition)
}
