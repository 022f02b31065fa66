// Package job holds the process-global registry of named job functions.
//
// Work crosses the process boundary by name: the orchestrator dispatches a
// registered job's name plus an encoded argument, and the worker process
// (running the same binary) resolves the name against its own copy of the
// registry. Jobs must therefore be registered at package init time, before
// any pool is created, so orchestrator and workers agree on the name set.
package job

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"sync"
)

// rawFunc is the byte-level form a job takes inside a worker: decode the
// argument, run, encode the result.
type rawFunc func(ctx context.Context, payload []byte) ([]byte, error)

type entry struct {
	raw rawFunc
	// direct is the typed function as registered, invoked in-process by
	// sequential pools without a codec round trip.
	direct any
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]entry)
)

// Job is a typed token for a registered job function. The zero value is not
// usable; obtain one from Register.
type Job[A, R any] struct {
	name string
}

// Name returns the name the job was registered under.
func (j Job[A, R]) Name() string {
	return j.name
}

// Register records fn under name and returns the token used to dispatch it.
// It panics if name is empty or already taken, mirroring http.HandleFunc:
// a duplicate registration is a programming error, not a runtime condition.
func Register[A, R any](name string, fn func(ctx context.Context, arg A) (R, error)) Job[A, R] {
	if name == "" {
		panic("job: Register with empty name")
	}

	raw := func(ctx context.Context, payload []byte) ([]byte, error) {
		var arg A
		if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&arg); err != nil {
			return nil, fmt.Errorf("job %q: decode argument: %w", name, err)
		}

		res, err := fn(ctx, arg)
		if err != nil {
			return nil, err
		}

		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(&res); err != nil {
			return nil, fmt.Errorf("job %q: encode result: %w", name, err)
		}
		return buf.Bytes(), nil
	}

	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := registry[name]; ok {
		panic(fmt.Sprintf("job: Register called twice for %q", name))
	}
	registry[name] = entry{raw: raw, direct: fn}

	return Job[A, R]{name: name}
}

// Invoke runs the named job against an encoded payload. The worker runtime
// calls this for every dispatch frame it receives.
func Invoke(ctx context.Context, name string, payload []byte) ([]byte, error) {
	registryMu.RLock()
	e, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("job %q is not registered in this process", name)
	}
	return e.raw(ctx, payload)
}

// Direct returns the typed function registered under j for in-process
// execution.
func Direct[A, R any](j Job[A, R]) (func(ctx context.Context, arg A) (R, error), error) {
	registryMu.RLock()
	e, ok := registry[j.name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("job %q is not registered in this process", j.name)
	}

	fn, ok := e.direct.(func(ctx context.Context, arg A) (R, error))
	if !ok {
		return nil, fmt.Errorf("job %q registered with a different signature", j.name)
	}
	return fn, nil
}

// Encode gob-encodes a job argument for dispatch.
func Encode[A any](arg A) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&arg); err != nil {
		return nil, fmt.Errorf("encode job argument: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode gob-decodes a job result.
func Decode[R any](payload []byte) (R, error) {
	var res R
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&res); err != nil {
		return res, fmt.Errorf("decode job result: %w", err)
	}
	return res, nil
}
