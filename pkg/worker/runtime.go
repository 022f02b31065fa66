package worker

import (
	"context"
	"encoding/gob"
	"errors"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/loomworks/loom/pkg/heap"
	"github.com/loomworks/loom/pkg/job"
	"github.com/loomworks/loom/pkg/logger"
)

// RunIfWorker turns the current process into a worker when it was spawned
// as one, and never returns in that case. Binaries that create pools must
// call it at the top of main, after all job registrations have happened,
// so that the re-executed binary serves jobs instead of re-running the
// orchestrator path.
func RunIfWorker() {
	if os.Getenv(envMarker) != "1" {
		return
	}
	os.Exit(runWorker())
}

func runWorker() int {
	level := os.Getenv(envLogLevel)
	if level == "" {
		level = "warn"
	}
	log := logger.MustNewLogger("text", level).With(
		zap.String("worker_id", os.Getenv(envWorkerID)),
	)

	seg, err := heap.Attach(os.NewFile(heapFD, "loom-heap"))
	if err != nil {
		log.Error("failed to attach shared heap", zap.Error(err))
		return 1
	}
	if _, err := heap.InitAttached(seg); err != nil {
		log.Error("failed to install shared heap", zap.Error(err))
		return 1
	}

	dec := gob.NewDecoder(os.Stdin)
	enc := gob.NewEncoder(os.Stdout)

	// Ready handshake: the heap is attached and the job loop is about to
	// start.
	if err := enc.Encode(response{ID: 0}); err != nil {
		log.Error("failed to send ready handshake", zap.Error(err))
		return 1
	}

	ctx := context.Background()
	for {
		var req request
		if err := dec.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) {
				// Orchestrator closed the pipe: normal teardown.
				return 0
			}
			log.Error("failed to decode dispatch frame", zap.Error(err))
			return 1
		}

		resp := response{ID: req.ID}
		payload, err := job.Invoke(ctx, req.Job, req.Payload)
		if err != nil {
			resp.Err = err.Error()
		} else {
			resp.Payload = payload
		}

		if err := enc.Encode(resp); err != nil {
			log.Error("failed to encode response frame", zap.Error(err))
			return 1
		}
	}
}
