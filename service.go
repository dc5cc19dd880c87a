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

// State is one of the seven states a service can occupy. See spec §4.1.
type State string

const (
	StateDown    State = "down"
	StateStart   State = "start"
	StateUp      State = "up"
	StateRestart State = "restart"
	StateStop    State = "stop"
	StateFail    State = "fail"
	StateFatal   State = "fatal"
)

// service is the mutable run-time record for one declared ServiceConfig.
// It is owned exclusively by the Supervisor that created it: every field
// is read and written only while that Supervisor's lock is held, so the
// type itself carries no synchronization of its own (see clock.go).
type service struct {
	cfg *ServiceConfig

	// pendingCfg, when non-nil, is a Configure update that arrived after
	// this service was already declared, whatever its state. It
	// is swapped into cfg at the top of the next doStart, so a running
	// service finishes its current run under the config it started
	// with. See Configure.
	pendingCfg *ServiceConfig

	// removed is set by RemoveService on a record that has already been
	// deleted from the Supervisor's map, so that a pending timer or
	// child-exit callback captured over this *service before removal
	// (doStart/onStartWait/onChildExit/restartSvc/onStopWait all close
	// over the pointer, never re-checking the map) finds out and quits
	// instead of restarting a child nothing can reach by name anymore.
	removed bool

	state State
	proc  *os.Process
	pid   int

	startCount int
	startTS    time.Time
	lastStatus int
	once       bool

	// pendingTimer is whichever of the start_wait / restart_delay /
	// stop_wait timers is currently outstanding for this service. At
	// most one is ever armed at a time, since those three timers are
	// only active during the start/restart/stop states respectively,
	// and a service occupies exactly one state.
	pendingTimer *time.Timer
}

func newService(cfg *ServiceConfig) *service {
	return &service{cfg: cfg, state: StateDown}
}

// uptime returns how long the current child has been running. It is
// only meaningful while pid != 0.
func (s *service) uptime() time.Duration {
	return time.Since(s.startTS)
}

// cancelTimer stops any pending timer for this service. Safe to call
// when none is armed.
func (s *service) cancelTimer() {
	if s.pendingTimer != nil {
		s.pendingTimer.Stop()
		s.pendingTimer = nil
	}
}
