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

// Package ctrl implements the line-oriented control-socket protocol
// operators use to query and drive a governor.Supervisor: bind a
// listener, accept sessions, and dispatch verbs to the supervisor's
// operation methods.
package ctrl

import (
	"os"
	"syscall"

	"github.com/gdamore/governor"
)

// opFunc is one verb's handler: it looks up svc on sup and performs
// whatever operation the verb names, returning the tuple to render on
// the wire, whether svc was recognized, and any error worth logging.
type opFunc func(sup *governor.Supervisor, svc string) ([]string, bool, error)

func signalOp(sig os.Signal) opFunc {
	return func(sup *governor.Supervisor, svc string) ([]string, bool, error) {
		return sup.Signal(svc, sig)
	}
}

// commandTable maps each recognized per-service verb to its handler.
// This mirrors the "dynamic command table" idiom spec.md's design notes
// call out explicitly: a plain map from string to function, rather than
// a switch, so the wire grammar and the dispatch table stay in lockstep.
var commandTable = map[string]opFunc{
	"up":   func(sup *governor.Supervisor, svc string) ([]string, bool, error) { return sup.Up(svc) },
	"once": func(sup *governor.Supervisor, svc string) ([]string, bool, error) { return sup.Once(svc) },
	"down": func(sup *governor.Supervisor, svc string) ([]string, bool, error) { return sup.Down(svc) },

	"pause": signalOp(syscall.SIGSTOP),
	"cont":  signalOp(syscall.SIGCONT),
	"hup":   signalOp(syscall.SIGHUP),
	"alarm": signalOp(syscall.SIGALRM),
	"int":   signalOp(syscall.SIGINT),
	"quit":  signalOp(syscall.SIGQUIT),
	"usr1":  signalOp(syscall.SIGUSR1),
	"usr2":  signalOp(syscall.SIGUSR2),
	"term":  signalOp(syscall.SIGTERM),
	"kill":  signalOp(syscall.SIGKILL),

	"status": func(sup *governor.Supervisor, svc string) ([]string, bool, error) {
		tuple, err := sup.Status(svc)
		if err == governor.ErrNoSuchService {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		return tuple, true, nil
	},
}
