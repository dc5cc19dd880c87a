// Copyright 2015 The Govisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package governor

import (
	"os"
	"time"
)

// clock is the event loop. Conceptually it is a single-threaded
// cooperative scheduler multiplexing timers, child-exit notifications
// and signal delivery; concretely it runs each source on its own
// goroutine (a timer's AfterFunc, a Wait() on a child, signal.Notify's
// channel reader) but forces every one of them to acquire the
// Supervisor's lock before touching service state. Timer and child-exit
// callbacks hold it for the whole callback, which gives them the same
// "operations run to completion atomically with respect to each other"
// guarantee a literal single thread would, without requiring one. The
// supervisor-process signal handlers do not: they take the lock once to
// snapshot the live children and then once per child they signal, so
// other callbacks can run between those steps.
type clock struct {
	sup *Supervisor
}

// afterFunc arms a one-shot timer that runs fn under the supervisor
// lock when it fires. The returned Timer can be Stop()ed to cancel it;
// per spec §5, a service has at most one pending timer of a given kind
// active at a time, so callers are expected to Stop() any prior timer
// before arming a new one.
func (c *clock) afterFunc(d time.Duration, fn func()) *time.Timer {
	return time.AfterFunc(d, func() {
		c.sup.mu.Lock()
		defer c.sup.mu.Unlock()
		fn()
	})
}

// watchChild waits for proc to exit and delivers (pid, raw wait status)
// to fn under the supervisor lock. It is delivered at most once per
// spawned pid.
func (c *clock) watchChild(proc *os.Process, fn func(pid int, rawStatus int)) {
	go func() {
		ps, err := proc.Wait()
		raw := 0
		if err == nil && ps != nil {
			raw = exitRawStatus(ps)
		}
		c.sup.mu.Lock()
		defer c.sup.mu.Unlock()
		fn(proc.Pid, raw)
	}()
}
