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
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"
)

// Supervisor owns the service table, installs the process's signal
// handlers, and drives every service's state machine. All of its
// exported operations are safe to call from any number of goroutines
// (control-protocol sessions, in particular) concurrently: they all
// serialize through the same lock the event loop (clock.go) uses for
// timer and child-exit callbacks, which is what gives the engine its
// single-owner-of-state guarantee without a literal single thread.
type Supervisor struct {
	mu       sync.Mutex
	cfg      *Config
	logger   Logger
	clock    *clock
	services map[string]*service
	serial   int64

	sigCh    chan os.Signal
	exitCh   chan struct{}
	exitOnce sync.Once
	notify   func(name string) // hook called after any state transition; used by metrics/tests
}

// New builds a Supervisor from a parsed Config. It does not start any
// services; call Run to install signal handlers and enter the event
// loop, and Up/Once to start individual services.
func New(cfg *Config, logger Logger) *Supervisor {
	if logger == nil {
		logger = discardLogger{}
	}
	sup := &Supervisor{
		cfg:      cfg,
		logger:   logger,
		services: make(map[string]*service, len(cfg.Services)),
		sigCh:    make(chan os.Signal, 8),
		exitCh:   make(chan struct{}),
	}
	sup.clock = &clock{sup: sup}
	for name, sc := range cfg.Services {
		sup.services[name] = newService(sc)
	}
	return sup
}

// SetNotify installs a callback invoked (outside the lock) after any
// service transitions state. It exists for the metrics and log-watching
// collaborators; the engine itself never depends on it being set.
func (sup *Supervisor) SetNotify(fn func(name string)) {
	sup.mu.Lock()
	sup.notify = fn
	sup.mu.Unlock()
}

func (sup *Supervisor) bumpSerial(name string) {
	sup.serial++
	if sup.notify != nil {
		n := sup.notify
		go n(name)
	}
}

// AddService declares a brand new service at run time. It does not
// start it. Declaring a name that already exists is an error; use
// Configure to update an already-declared service in place (this is
// what the config hot-reload path does, see SPEC_FULL.md §10.2).
func (sup *Supervisor) AddService(sc *ServiceConfig) error {
	sup.mu.Lock()
	defer sup.mu.Unlock()
	if _, ok := sup.services[sc.Name]; ok {
		return ErrDuplicateName
	}
	sup.services[sc.Name] = newService(sc)
	sup.bumpSerial(sc.Name)
	return nil
}

// Configure upserts sc: a previously undeclared service gets sc as its
// config immediately. An already-declared one has sc queued as
// pendingCfg rather than swapped in on the spot — doStart is the only
// place that moves pendingCfg into cfg, so a running (or
// restart-backoff-waiting) service keeps its old config (including the
// retry, restart-delay and stop-wait values restartSvc and doStop read
// from cfg) for the rest of its current run and only actually starts
// with sc the next time it starts.
func (sup *Supervisor) Configure(sc *ServiceConfig) {
	sup.mu.Lock()
	defer sup.mu.Unlock()
	if existing, ok := sup.services[sc.Name]; ok {
		existing.pendingCfg = sc
		return
	}
	sup.services[sc.Name] = newService(sc)
	sup.bumpSerial(sc.Name)
}

// RemoveService forgets a declared service. A currently running child is
// left alone (no forced stop) — it simply will not be auto-restarted or
// reachable by name anymore once it next exits. Marking the record
// removed and cancelling its timer stops a service that is mid
// restart-backoff (or waiting out start_wait/stop_wait) from spawning
// or acting again on behalf of a name nothing can look up anymore.
func (sup *Supervisor) RemoveService(name string) {
	sup.mu.Lock()
	defer sup.mu.Unlock()
	if svc, ok := sup.services[name]; ok {
		svc.removed = true
		svc.cancelTimer()
	}
	delete(sup.services, name)
	sup.bumpSerial(name)
}

// ServiceNames returns every declared service name, in no particular
// order.
func (sup *Supervisor) ServiceNames() []string {
	sup.mu.Lock()
	defer sup.mu.Unlock()
	names := make([]string, 0, len(sup.services))
	for n := range sup.services {
		names = append(names, n)
	}
	return names
}

// Status implements the status(svc) op of spec §4.2.
func (sup *Supervisor) Status(name string) ([]string, error) {
	sup.mu.Lock()
	defer sup.mu.Unlock()
	svc, ok := sup.services[name]
	if !ok {
		return nil, ErrNoSuchService
	}
	return statusTuple(svc), nil
}

// ServiceInfo is the richer, structured counterpart to the wire
// protocol's status tuple, for collaborators (webstatus, the atomic
// status snapshot) that want typed fields instead of a rendered string.
type ServiceInfo struct {
	Name          string `json:"name"`
	State         State  `json:"state"`
	Pid           int    `json:"pid,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds,omitempty"`
	StartCount    int    `json:"start_count"`
	LastStatus    int    `json:"last_status"`
}

// Info returns the structured status of a single service.
func (sup *Supervisor) Info(name string) (ServiceInfo, error) {
	sup.mu.Lock()
	defer sup.mu.Unlock()
	svc, ok := sup.services[name]
	if !ok {
		return ServiceInfo{}, ErrNoSuchService
	}
	return serviceInfo(name, svc), nil
}

// InfoAll returns the structured status of every declared service.
func (sup *Supervisor) InfoAll() []ServiceInfo {
	sup.mu.Lock()
	defer sup.mu.Unlock()
	infos := make([]ServiceInfo, 0, len(sup.services))
	for name, svc := range sup.services {
		infos = append(infos, serviceInfo(name, svc))
	}
	return infos
}

func serviceInfo(name string, svc *service) ServiceInfo {
	info := ServiceInfo{
		Name:       name,
		State:      svc.state,
		Pid:        svc.pid,
		StartCount: svc.startCount,
		LastStatus: svc.lastStatus,
	}
	if svc.pid != 0 {
		secs := int64(svc.uptime().Seconds())
		if secs > 0 {
			info.UptimeSeconds = secs
		}
	}
	return info
}

func statusTuple(svc *service) []string {
	if svc.pid != 0 {
		secs := int64(svc.uptime().Seconds())
		if secs < 0 {
			secs = 0
		}
		return []string{string(svc.state), strconv.Itoa(svc.pid), strconv.FormatInt(secs, 10)}
	}
	if svc.state == StateRestart && svc.startCount > 0 {
		return []string{string(svc.state), strconv.Itoa(svc.startCount)}
	}
	return []string{string(svc.state)}
}

// Up implements the up(svc) op: if no child is running, clear the once
// flag and start the service, returning its new pid. The bool result is
// false only when name is not a declared service; a recognized service
// that could not be started still reports true, with a nil (falsy)
// tuple, per the wire protocol's "fail" rendering. The error is purely
// informational in that case (e.g. ErrAlreadyRunning) — callers that
// only care about the wire-visible outcome can ignore it.
func (sup *Supervisor) Up(name string) ([]string, bool, error) {
	sup.mu.Lock()
	defer sup.mu.Unlock()
	svc, ok := sup.services[name]
	if !ok {
		return nil, false, ErrNoSuchService
	}
	if svc.pid != 0 {
		return nil, true, ErrAlreadyRunning
	}
	svc.once = false
	sup.doStart(svc)
	if svc.pid == 0 {
		return nil, true, nil
	}
	return []string{strconv.Itoa(svc.pid)}, true, nil
}

// Once implements the once(svc) op: like Up, but marks the service so a
// natural exit lands in fatal instead of triggering a restart.
func (sup *Supervisor) Once(name string) ([]string, bool, error) {
	sup.mu.Lock()
	defer sup.mu.Unlock()
	svc, ok := sup.services[name]
	if !ok {
		return nil, false, ErrNoSuchService
	}
	if svc.pid != 0 {
		return nil, true, ErrAlreadyRunning
	}
	svc.once = true
	sup.doStart(svc)
	if svc.pid == 0 {
		return nil, true, nil
	}
	return []string{strconv.Itoa(svc.pid)}, true, nil
}

// Down implements the down(svc) op: if a child is running, send it TERM
// and (per stop_wait) arm the forced-kill timer.
func (sup *Supervisor) Down(name string) ([]string, bool, error) {
	sup.mu.Lock()
	defer sup.mu.Unlock()
	svc, ok := sup.services[name]
	if !ok {
		return nil, false, ErrNoSuchService
	}
	if svc.pid == 0 {
		return nil, true, nil
	}
	err := sup.doStop(svc)
	return []string{killResult(err)}, true, nil
}

// Signal sends sig directly to the named service's child, if any, with
// no effect on the state machine — this is the raw pause/cont/hup/
// alarm/int/quit/usr1/usr2/term/kill verb behavior of spec §4.2, distinct
// from Down's managed stop() sequence.
func (sup *Supervisor) Signal(name string, sig os.Signal) ([]string, bool, error) {
	sup.mu.Lock()
	defer sup.mu.Unlock()
	svc, ok := sup.services[name]
	if !ok {
		return nil, false, ErrNoSuchService
	}
	if svc.pid == 0 {
		return nil, true, nil
	}
	err := signalProcess(svc.proc, sig)
	return []string{killResult(err)}, true, nil
}

func killResult(err error) string {
	if err != nil {
		return "0"
	}
	return "1"
}

// doStart implements the start() event of spec §4.1's transition table.
// Callers must hold sup.mu.
func (sup *Supervisor) doStart(svc *service) {
	if svc.removed {
		return
	}
	if svc.pendingCfg != nil {
		svc.cfg = svc.pendingCfg
		svc.pendingCfg = nil
	}
	svc.cancelTimer()
	svc.startCount++

	proc, err := spawnChild(svc.cfg, sup.cfg.Global)
	if err != nil {
		sup.logger.Logf(LevelDebug, "fork failed for %s: %v", svc.cfg.Name, err)
		sup.restartSvc(svc)
		sup.bumpSerial(svc.cfg.Name)
		return
	}

	svc.proc = proc
	svc.pid = proc.Pid
	svc.startTS = time.Now()
	svc.state = StateStart
	sup.logger.Logf(LevelInfo, "%s: started, pid %d (attempt %d)", svc.cfg.Name, svc.pid, svc.startCount)
	sup.bumpSerial(svc.cfg.Name)

	sup.clock.watchChild(proc, func(pid, raw int) {
		sup.onChildExit(svc, pid, raw)
	})
	svc.pendingTimer = sup.clock.afterFunc(svc.cfg.StartWait, func() {
		sup.onStartWait(svc)
	})
}

// onStartWait implements the two "start_wait fires" rows of §4.1. If the
// child has already exited (handled by onChildExit, which always moves
// the service out of StateStart before this can matter), this is a
// deliberate no-op: child-exit wins the race per spec §9.
func (sup *Supervisor) onStartWait(svc *service) {
	if svc.removed || svc.state != StateStart {
		return
	}
	svc.pendingTimer = nil
	if svc.pid != 0 {
		svc.startCount = 0
		svc.state = StateUp
		sup.logger.Logf(LevelInfo, "%s: up", svc.cfg.Name)
		sup.bumpSerial(svc.cfg.Name)
		return
	}
	svc.state = StateFail
	sup.restartSvc(svc)
	sup.bumpSerial(svc.cfg.Name)
}

// onChildExit implements the exit-handling rows of §4.1. It is
// delivered by clock.watchChild at most once per spawned pid.
func (sup *Supervisor) onChildExit(svc *service, pid, raw int) {
	if svc.pid != pid {
		// A stale watcher for a pid that this service has already
		// moved on from (shouldn't happen: each service only ever
		// has one live watcher at a time, but stay defensive).
		return
	}
	svc.lastStatus = raw >> 8
	svc.pid = 0
	svc.proc = nil
	svc.cancelTimer()
	sup.logger.Logf(LevelDebug, "%s: exited, status %d", svc.cfg.Name, svc.lastStatus)

	if svc.removed {
		// Nothing left to reach this service by name; do not restart it.
		return
	}

	switch svc.state {
	case StateStop:
		svc.state = StateDown
		svc.startCount = 0
		sup.logger.Logf(LevelInfo, "%s: down", svc.cfg.Name)
	case StateStart, StateUp:
		if svc.once {
			svc.state = StateFatal
			svc.startCount = 0
			sup.logger.Logf(LevelWarn, "%s: fatal (once, natural exit)", svc.cfg.Name)
		} else {
			svc.state = StateFail
			sup.restartSvc(svc)
		}
	}
	sup.bumpSerial(svc.cfg.Name)
}

// restartSvc implements the `_restart_svc` pseudo-event rows of §4.1.
// Callers must hold sup.mu and must already have accounted for the
// current start attempt in svc.startCount.
func (sup *Supervisor) restartSvc(svc *service) {
	if svc.removed {
		return
	}
	retries := svc.cfg.StartRetries
	if retries == 0 || (retries > 0 && svc.startCount >= retries) {
		svc.state = StateFatal
		sup.logger.Logf(LevelWarn, "%s: fatal (retries exhausted)", svc.cfg.Name)
		return
	}
	svc.state = StateRestart
	sup.logger.Logf(LevelNotice, "%s: restart in %s (attempt %d)", svc.cfg.Name, svc.cfg.RestartDelay, svc.startCount)
	svc.pendingTimer = sup.clock.afterFunc(svc.cfg.RestartDelay, func() {
		if svc.state != StateRestart {
			return
		}
		sup.doStart(svc)
	})
}

// doStop implements the stop() event of §4.1. Callers must hold sup.mu
// and must have already checked svc.pid != 0.
func (sup *Supervisor) doStop(svc *service) error {
	svc.cancelTimer()
	err := signalProcess(svc.proc, syscall.SIGTERM)
	svc.state = StateStop
	sup.logger.Logf(LevelInfo, "%s: stopping, sent TERM to pid %d", svc.cfg.Name, svc.pid)
	if svc.cfg.StopWait > 0 {
		svc.pendingTimer = sup.clock.afterFunc(svc.cfg.StopWait, func() {
			sup.onStopWait(svc)
		})
	}
	sup.bumpSerial(svc.cfg.Name)
	return err
}

// onStopWait implements the "stop_wait fires AND pid still present" row
// of §4.1: escalate to KILL. The state remains stop; the actual down
// transition happens when the child's exit is reaped.
func (sup *Supervisor) onStopWait(svc *service) {
	svc.pendingTimer = nil
	if svc.removed || svc.state != StateStop || svc.pid == 0 {
		return
	}
	sup.logger.Logf(LevelWarn, "%s: stop_wait expired, sending KILL to pid %d", svc.cfg.Name, svc.pid)
	signalProcess(svc.proc, syscall.SIGKILL)
}

// installSignalHandlers wires the supervisor-process-level TERM/INT/HUP
// handling of §4.2. Run calls it before blocking; callers do not call it
// themselves.
func (sup *Supervisor) installSignalHandlers() {
	signal.Notify(sup.sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	go func() {
		for sig := range sup.sigCh {
			switch sig {
			case syscall.SIGTERM:
				sup.onSupervisorTerm()
			case syscall.SIGINT:
				sup.onSupervisorInt()
			case syscall.SIGHUP:
				sup.onSupervisorHup()
			}
		}
	}()
}

func (sup *Supervisor) liveChildren() []*service {
	sup.mu.Lock()
	defer sup.mu.Unlock()
	var live []*service
	for _, svc := range sup.services {
		if svc.pid != 0 {
			live = append(live, svc)
		}
	}
	return live
}

func (sup *Supervisor) onSupervisorTerm() {
	for _, svc := range sup.liveChildren() {
		sup.mu.Lock()
		if svc.pid != 0 {
			signalProcess(svc.proc, syscall.SIGTERM)
		}
		sup.mu.Unlock()
	}
	sup.requestExit()
}

func (sup *Supervisor) onSupervisorInt() {
	live := sup.liveChildren()
	for _, svc := range live {
		sup.mu.Lock()
		if svc.pid != 0 {
			signalProcess(svc.proc, syscall.SIGINT)
		}
		sup.mu.Unlock()
	}
	if len(live) == 0 {
		sup.requestExit()
	}
}

func (sup *Supervisor) onSupervisorHup() {
	for _, svc := range sup.liveChildren() {
		sup.mu.Lock()
		if svc.pid != 0 {
			signalProcess(svc.proc, syscall.SIGHUP)
		}
		sup.mu.Unlock()
	}
}

func (sup *Supervisor) requestExit() {
	sup.exitOnce.Do(func() { close(sup.exitCh) })
}

// Run installs signal handlers and blocks until a TERM was received, or
// an INT arrived with no children alive (spec §6, "Exit conditions").
func (sup *Supervisor) Run() {
	sup.installSignalHandlers()
	<-sup.exitCh
	signal.Stop(sup.sigCh)
}

// Done returns a channel that is closed once Run's exit condition has
// been reached, so a caller (e.g. cmd/governord) can shut down other
// subsystems, such as the control listener, in step with it.
func (sup *Supervisor) Done() <-chan struct{} {
	return sup.exitCh
}
