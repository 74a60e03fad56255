// Package memory provides thread-safe in-memory implementations of the
// persistence contracts. They back the local/test mode of the service and
// serve as the mock repositories in unit tests, including controlled fault
// injection for retry and rollback scenarios.
package memory

import (
	"sync"
)

// faultInjector lets tests force failures on named operations. An operation
// fails as long as its remaining count is positive; a negative count fails
// forever until cleared.
type faultInjector struct {
	mu     sync.Mutex
	faults map[string]*fault
}

type fault struct {
	err       error
	remaining int
}

func newFaultInjector() *faultInjector {
	return &faultInjector{faults: make(map[string]*fault)}
}

// FailTimes arranges for the next n calls of op to fail with err.
func (f *faultInjector) FailTimes(op string, n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults[op] = &fault{err: err, remaining: n}
}

// SetError arranges for every call of op to fail with err until ClearFaults.
func (f *faultInjector) SetError(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults[op] = &fault{err: err, remaining: -1}
}

// ClearFaults removes all injected faults.
func (f *faultInjector) ClearFaults() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults = make(map[string]*fault)
}

// fire returns the injected error for op, if one is armed.
func (f *faultInjector) fire(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	fl, ok := f.faults[op]
	if !ok {
		return nil
	}
	if fl.remaining == 0 {
		delete(f.faults, op)
		return nil
	}
	if fl.remaining > 0 {
		fl.remaining--
		if fl.remaining == 0 {
			defer delete(f.faults, op)
		}
	}
	return fl.err
}
