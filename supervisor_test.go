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

//go:build unix

package governor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func waitForState(sup *Supervisor, name string, want State, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if info, err := sup.Info(name); err == nil && info.State == want {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}

func newTestSupervisor(services map[string]*ServiceConfig) *Supervisor {
	cfg := &Config{Services: services}
	return New(cfg, nil)
}

func TestUpBringsServiceUp(t *testing.T) {
	Convey("A service with a long-lived command reaches up", t, func() {
		sc := &ServiceConfig{
			Name: "a", Cmd: "sleep 5",
			StartRetries: 8, RestartDelay: 10 * time.Millisecond,
			StartWait: 10 * time.Millisecond, StopWait: 0,
		}
		sup := newTestSupervisor(map[string]*ServiceConfig{"a": sc})

		_, ok, err := sup.Up("a")
		So(err, ShouldBeNil)
		So(ok, ShouldBeTrue)

		So(waitForState(sup, "a", StateUp, time.Second), ShouldBeTrue)
		info, err := sup.Info("a")
		So(err, ShouldBeNil)
		So(info.StartCount, ShouldEqual, 0)
		So(info.Pid, ShouldBeGreaterThan, 0)

		_, _, err = sup.Down("a")
		So(err, ShouldBeNil)
		So(waitForState(sup, "a", StateDown, time.Second), ShouldBeTrue)
	})
}

func TestRetryExhaustionReachesFatal(t *testing.T) {
	Convey("A service that always exits immediately exhausts its retry budget", t, func() {
		sc := &ServiceConfig{
			Name: "a", Cmd: "/bin/false",
			StartRetries: 3, RestartDelay: 10 * time.Millisecond,
			StartWait: 50 * time.Millisecond, StopWait: 0,
		}
		sup := newTestSupervisor(map[string]*ServiceConfig{"a": sc})

		_, _, err := sup.Up("a")
		So(err, ShouldBeNil)

		So(waitForState(sup, "a", StateFatal, 2*time.Second), ShouldBeTrue)
		info, err := sup.Info("a")
		So(err, ShouldBeNil)
		So(info.StartCount, ShouldEqual, 3)
	})
}

func TestOnceServiceGoesFatalNotRestart(t *testing.T) {
	Convey("A once service that exits naturally goes fatal, not restart", t, func() {
		sc := &ServiceConfig{
			Name: "a", Cmd: "/bin/true",
			StartRetries: 8, RestartDelay: 10 * time.Millisecond,
			StartWait: 50 * time.Millisecond, StopWait: 0,
		}
		sup := newTestSupervisor(map[string]*ServiceConfig{"a": sc})

		_, ok, err := sup.Once("a")
		So(err, ShouldBeNil)
		So(ok, ShouldBeTrue)

		So(waitForState(sup, "a", StateFatal, time.Second), ShouldBeTrue)
		info, err := sup.Info("a")
		So(err, ShouldBeNil)
		So(info.StartCount, ShouldEqual, 0)
	})
}

func TestUnknownServiceIsError(t *testing.T) {
	Convey("Operations against an undeclared service fail with ErrNoSuchService", t, func() {
		sup := newTestSupervisor(map[string]*ServiceConfig{})
		_, ok, err := sup.Up("nope")
		So(ok, ShouldBeFalse)
		So(err, ShouldEqual, ErrNoSuchService)

		_, err2 := sup.Status("nope")
		So(err2, ShouldEqual, ErrNoSuchService)
	})
}

func TestStopSendsTermAndReachesDown(t *testing.T) {
	Convey("Down sends TERM and the service settles at down", t, func() {
		sc := &ServiceConfig{
			Name: "a", Cmd: "trap '' TERM; sleep 5",
			StartRetries: 8, RestartDelay: 10 * time.Millisecond,
			StartWait: 10 * time.Millisecond, StopWait: 100 * time.Millisecond,
		}
		sup := newTestSupervisor(map[string]*ServiceConfig{"a": sc})

		_, _, err := sup.Up("a")
		So(err, ShouldBeNil)
		So(waitForState(sup, "a", StateUp, time.Second), ShouldBeTrue)

		_, ok, err := sup.Down("a")
		So(err, ShouldBeNil)
		So(ok, ShouldBeTrue)

		// The child ignores TERM, so stop_wait must escalate to KILL.
		So(waitForState(sup, "a", StateDown, 2*time.Second), ShouldBeTrue)
	})
}

// countSignal counts newline-terminated records in path, tolerating a
// missing file (the trap may not have fired yet).
func countSignal(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	return strings.Count(string(data), "\n")
}

func TestSupervisorTermSignalsEveryLiveChildExactlyOnce(t *testing.T) {
	Convey("A single supervisor TERM sends TERM to every live child exactly once, and unblocks Run", t, func() {
		dir := t.TempDir()
		fileA := filepath.Join(dir, "a.log")
		fileB := filepath.Join(dir, "b.log")

		// Each child traps TERM by appending a record and looping, so it
		// survives long enough for the test to count how many TERMs it
		// actually received instead of just dying on the first one.
		mkCfg := func(name, file string) *ServiceConfig {
			return &ServiceConfig{
				Name: name,
				Cmd:  fmt.Sprintf(`trap 'echo term >> %s' TERM; while :; do sleep 0.02; done`, file),
				StartRetries: 8, RestartDelay: 10 * time.Millisecond,
				StartWait: 10 * time.Millisecond, StopWait: 0,
			}
		}
		sup := newTestSupervisor(map[string]*ServiceConfig{
			"a": mkCfg("a", fileA),
			"b": mkCfg("b", fileB),
		})

		_, _, err := sup.Up("a")
		So(err, ShouldBeNil)
		_, _, err = sup.Up("b")
		So(err, ShouldBeNil)
		So(waitForState(sup, "a", StateUp, time.Second), ShouldBeTrue)
		So(waitForState(sup, "b", StateUp, time.Second), ShouldBeTrue)

		infoA, err := sup.Info("a")
		So(err, ShouldBeNil)
		infoB, err := sup.Info("b")
		So(err, ShouldBeNil)
		t.Cleanup(func() {
			syscall.Kill(infoA.Pid, syscall.SIGKILL)
			syscall.Kill(infoB.Pid, syscall.SIGKILL)
		})

		done := make(chan struct{})
		go func() {
			sup.Run()
			close(done)
		}()
		time.Sleep(50 * time.Millisecond) // let installSignalHandlers register

		So(syscall.Kill(os.Getpid(), syscall.SIGTERM), ShouldBeNil)

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("Run did not unblock after a supervisor TERM")
		}

		// Give the traps a moment to flush, then make sure a second TERM
		// sent to survivors from a prior test run couldn't have landed:
		// each child must show exactly one record.
		deadline := time.Now().Add(time.Second)
		for time.Now().Before(deadline) && (countSignal(fileA) == 0 || countSignal(fileB) == 0) {
			time.Sleep(5 * time.Millisecond)
		}
		So(countSignal(fileA), ShouldEqual, 1)
		So(countSignal(fileB), ShouldEqual, 1)
	})
}

func TestSupervisorIntExitsOnlyOnceNoChildrenRemain(t *testing.T) {
	Convey("An INT with a live child does not exit; a later INT with none does", t, func() {
		sc := &ServiceConfig{
			Name: "a", Cmd: "trap '' INT; sleep 5",
			StartRetries: 8, RestartDelay: 10 * time.Millisecond,
			StartWait: 10 * time.Millisecond, StopWait: 100 * time.Millisecond,
		}
		sup := newTestSupervisor(map[string]*ServiceConfig{"a": sc})

		_, _, err := sup.Up("a")
		So(err, ShouldBeNil)
		So(waitForState(sup, "a", StateUp, time.Second), ShouldBeTrue)

		done := make(chan struct{})
		go func() {
			sup.Run()
			close(done)
		}()
		time.Sleep(50 * time.Millisecond)

		So(syscall.Kill(os.Getpid(), syscall.SIGINT), ShouldBeNil)

		select {
		case <-done:
			t.Fatal("Run exited after INT while a child was still alive")
		case <-time.After(200 * time.Millisecond):
		}

		_, ok, err := sup.Down("a")
		So(err, ShouldBeNil)
		So(ok, ShouldBeTrue)
		So(waitForState(sup, "a", StateDown, 2*time.Second), ShouldBeTrue)

		So(syscall.Kill(os.Getpid(), syscall.SIGINT), ShouldBeNil)

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("Run did not unblock after an INT with no live children")
		}
	})
}

func TestRemoveServiceStopsRestartBackoffFromRespawning(t *testing.T) {
	Convey("Removing a service mid restart-backoff stops it from spawning again", t, func() {
		dir := t.TempDir()
		countFile := filepath.Join(dir, "count")

		sc := &ServiceConfig{
			Name: "a", Cmd: fmt.Sprintf("echo x >> %s; exit 1", countFile),
			StartRetries: 1000000, RestartDelay: 20 * time.Millisecond,
			StartWait: 10 * time.Millisecond, StopWait: 0,
		}
		sup := newTestSupervisor(map[string]*ServiceConfig{"a": sc})

		_, _, err := sup.Up("a")
		So(err, ShouldBeNil)
		So(waitForState(sup, "a", StateRestart, time.Second), ShouldBeTrue)

		before := countSignal(countFile)
		sup.RemoveService("a")

		time.Sleep(200 * time.Millisecond)
		So(countSignal(countFile), ShouldEqual, before)

		_, ok, err := sup.Up("a")
		So(ok, ShouldBeFalse)
		So(err, ShouldEqual, ErrNoSuchService)
	})
}

func TestConfigureDefersConfigUntilServiceRestarts(t *testing.T) {
	Convey("Configure on a running service takes effect only at its next start", t, func() {
		dir := t.TempDir()
		marker := filepath.Join(dir, "marker")

		sc := &ServiceConfig{
			Name: "a", Cmd: "sleep 5",
			StartRetries: 8, RestartDelay: 10 * time.Millisecond,
			StartWait: 10 * time.Millisecond, StopWait: 0,
		}
		sup := newTestSupervisor(map[string]*ServiceConfig{"a": sc})

		_, _, err := sup.Up("a")
		So(err, ShouldBeNil)
		So(waitForState(sup, "a", StateUp, time.Second), ShouldBeTrue)

		sup.Configure(&ServiceConfig{
			Name: "a", Cmd: fmt.Sprintf("touch %s; sleep 5", marker),
			StartRetries: 8, RestartDelay: 10 * time.Millisecond,
			StartWait: 10 * time.Millisecond, StopWait: 0,
		})

		time.Sleep(100 * time.Millisecond)
		_, statErr := os.Stat(marker)
		So(os.IsNotExist(statErr), ShouldBeTrue)

		_, _, err = sup.Down("a")
		So(err, ShouldBeNil)
		So(waitForState(sup, "a", StateDown, time.Second), ShouldBeTrue)

		_, _, err = sup.Up("a")
		So(err, ShouldBeNil)
		So(waitForState(sup, "a", StateUp, time.Second), ShouldBeTrue)

		deadline := time.Now().Add(time.Second)
		for time.Now().Before(deadline) {
			if _, statErr := os.Stat(marker); statErr == nil {
				break
			}
			time.Sleep(5 * time.Millisecond)
		}
		_, statErr = os.Stat(marker)
		So(statErr, ShouldBeNil)
	})
}
