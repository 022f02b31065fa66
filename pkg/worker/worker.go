// Package worker spawns and supervises the worker processes a pool fans
// work out to, and provides the runtime a process runs when it is spawned
// as a worker.
package worker

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/loomworks/loom/pkg/heap"
	"github.com/loomworks/loom/pkg/logger"
)

const (
	envMarker   = "LOOM_WORKER"
	envWorkerID = "LOOM_WORKER_ID"
	envLogLevel = "LOOM_WORKER_LOG_LEVEL"

	// heapFD is the descriptor number the heap segment is inherited on:
	// the first entry of ExtraFiles.
	heapFD = 3

	// handshakeTimeout bounds how long spawn waits for a worker to attach
	// to the heap and report ready.
	handshakeTimeout = 30 * time.Second
)

// ErrWorkerExited indicates the worker process terminated while a call was
// outstanding or before it could be dispatched to.
var ErrWorkerExited = errors.New("worker process exited")

var errNotReady = errors.New("worker has not completed its handshake")

// request is one dispatch frame sent to a worker. ID 0 is reserved for the
// ready handshake.
type request struct {
	ID      uint64
	Job     string
	Payload []byte
}

// response is the worker's answer to a request, or the handshake frame.
type response struct {
	ID      uint64
	Payload []byte
	Err     string
}

// Call is one outstanding dispatch to a worker. Its result is delivered on
// the ready channel supplied at dispatch time.
type Call struct {
	id      uint64
	worker  *Handle
	payload []byte
	err     error
}

// Result returns the raw result payload of a completed call.
func (c *Call) Result() ([]byte, error) {
	return c.payload, c.err
}

// Worker returns the handle the call was dispatched to.
func (c *Call) Worker() *Handle {
	return c.worker
}

// Handle is the orchestrator-side reference to one spawned worker process.
// A worker accepts exactly one outstanding call at a time; the pool's
// dispatch loop enforces that discipline.
type Handle struct {
	id  int
	uid string
	log logger.Logger

	cmd *exec.Cmd

	sendMu sync.Mutex
	stdin  io.WriteCloser
	enc    *gob.Encoder

	pendingMu sync.Mutex
	pending   *Call
	readyc    chan<- *Call
	nextID    uint64

	ready  atomic.Bool
	failed atomic.Pointer[error]

	killOnce   sync.Once
	readerDone chan struct{}
}

// Spawn re-executes the current binary as worker id, hands it the heap
// segment on an inherited descriptor, and waits for its ready handshake.
// The returned handle is fully attached; Spawn fails atomically otherwise.
func Spawn(id int, seg *heap.Segment, logLevel string, log logger.Logger) (*Handle, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve orchestrator executable: %w", err)
	}

	uid := uuid.NewString()

	cmd := exec.Command(exe)
	cmd.Env = append(os.Environ(),
		envMarker+"=1",
		fmt.Sprintf("%s=%d", envWorkerID, id),
		envLogLevel+"="+logLevel,
	)
	cmd.ExtraFiles = []*os.File{seg.File()}
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("worker %d stdin pipe: %w", id, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("worker %d stdout pipe: %w", id, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn worker %d: %w", id, err)
	}

	h := &Handle{
		id:         id,
		uid:        uid,
		log:        log.With(zap.Int("worker_id", id), zap.String("worker_uid", uid)),
		cmd:        cmd,
		stdin:      stdin,
		enc:        gob.NewEncoder(stdin),
		readerDone: make(chan struct{}),
	}

	go h.readLoop(gob.NewDecoder(stdout))

	if err := h.awaitHandshake(); err != nil {
		h.Kill()
		return nil, fmt.Errorf("worker %d never became ready: %w", id, err)
	}

	h.log.Debug("worker ready", zap.Int("pid", cmd.Process.Pid))
	return h, nil
}

// awaitHandshake polls the ready flag with exponential backoff until the
// read loop observes the worker's handshake frame.
func (h *Handle) awaitHandshake() error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Millisecond
	bo.MaxElapsedTime = handshakeTimeout

	return backoff.Retry(func() error {
		if err := h.failure(); err != nil {
			return backoff.Permanent(err)
		}
		if h.ready.Load() {
			return nil
		}
		return errNotReady
	}, bo)
}

// Dispatch sends one job frame to the worker. The completed call is
// delivered on readyc. The worker must have no outstanding call.
func (h *Handle) Dispatch(jobName string, payload []byte, readyc chan<- *Call) (*Call, error) {
	if err := h.failure(); err != nil {
		return nil, err
	}

	h.pendingMu.Lock()
	if h.pending != nil {
		h.pendingMu.Unlock()
		return nil, fmt.Errorf("worker %d already has an outstanding call", h.id)
	}
	h.nextID++
	c := &Call{id: h.nextID, worker: h}
	h.pending = c
	h.readyc = readyc
	h.pendingMu.Unlock()

	h.sendMu.Lock()
	err := h.enc.Encode(request{ID: c.id, Job: jobName, Payload: payload})
	h.sendMu.Unlock()
	if err != nil {
		h.clearPending()
		return nil, fmt.Errorf("dispatch to worker %d: %w", h.id, err)
	}

	return c, nil
}

func (h *Handle) readLoop(dec *gob.Decoder) {
	defer close(h.readerDone)
	for {
		var resp response
		if err := dec.Decode(&resp); err != nil {
			h.fail(fmt.Errorf("%w: %v", ErrWorkerExited, err))
			return
		}

		if resp.ID == 0 {
			h.ready.Store(true)
			continue
		}

		h.deliver(&resp)
	}
}

func (h *Handle) deliver(resp *response) {
	h.pendingMu.Lock()
	c, readyc := h.pending, h.readyc
	if c == nil || c.id != resp.ID {
		// The outstanding call, if any, stays pending: a stray frame must
		// not strand its caller.
		h.pendingMu.Unlock()
		h.log.Warn("dropping response with no matching call", zap.Uint64("call_id", resp.ID))
		return
	}
	h.pending, h.readyc = nil, nil
	h.pendingMu.Unlock()

	if resp.Err != "" {
		c.err = fmt.Errorf("worker %d: %s", h.id, resp.Err)
	} else {
		c.payload = resp.Payload
	}
	readyc <- c
}

// fail marks the worker dead and surfaces the failure through any
// outstanding call, so a crash is observed as that call completing with an
// error rather than a hang.
func (h *Handle) fail(err error) {
	h.failed.CompareAndSwap(nil, &err)

	h.pendingMu.Lock()
	c, readyc := h.pending, h.readyc
	h.pending, h.readyc = nil, nil
	h.pendingMu.Unlock()

	if c != nil {
		c.err = err
		readyc <- c
	}
}

func (h *Handle) clearPending() {
	h.pendingMu.Lock()
	h.pending, h.readyc = nil, nil
	h.pendingMu.Unlock()
}

func (h *Handle) failure() error {
	if p := h.failed.Load(); p != nil {
		return *p
	}
	return nil
}

// Kill terminates the worker process unconditionally and reaps it. It is
// idempotent and never fails: termination errors are logged, not returned,
// because destruction must succeed even for a worker that already died.
func (h *Handle) Kill() {
	h.killOnce.Do(func() {
		h.stdin.Close()
		if h.cmd.Process != nil {
			if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				h.log.Warn("failed to kill worker process", zap.Error(err))
			}
		}
		h.cmd.Wait()
		<-h.readerDone
	})
}
