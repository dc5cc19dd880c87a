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
	"os"
	"os/exec"
	"os/user"
	"strconv"
	"sync"
	"syscall"
)

// umaskMu serializes the "set process umask, fork, restore" dance
// across concurrent spawns. Go's exec.Cmd offers no hook to run code
// in the child between fork and exec, so the effective umask can only
// be established by changing the whole process's umask immediately
// before Start() and putting it back immediately after: the child
// inherits whatever was in effect at the moment of fork.
var umaskMu sync.Mutex

func effectiveUmask(svc *ServiceConfig, global GlobalConfig) (int, bool) {
	if svc.Umask != nil {
		return *svc.Umask, true
	}
	if global.Umask != nil {
		return *global.Umask, true
	}
	return 0, false
}

func lookupCredential(username, groupname string) (*syscall.Credential, error) {
	if username == "" && groupname == "" {
		return nil, nil
	}
	cred := &syscall.Credential{}
	if username != "" {
		u, err := user.Lookup(username)
		if err != nil {
			return nil, err
		}
		uid, err := strconv.Atoi(u.Uid)
		if err != nil {
			return nil, err
		}
		cred.Uid = uint32(uid)
		if groupname == "" {
			gid, err := strconv.Atoi(u.Gid)
			if err != nil {
				return nil, err
			}
			cred.Gid = uint32(gid)
		}
	}
	if groupname != "" {
		g, err := user.LookupGroup(groupname)
		if err != nil {
			return nil, err
		}
		gid, err := strconv.Atoi(g.Gid)
		if err != nil {
			return nil, err
		}
		cred.Gid = uint32(gid)
	}
	return cred, nil
}

// spawnChild forks and execs sc.Cmd through the platform shell, applying
// credentials and umask per spec §4.2. The shell indirection is what
// lets a service's cmd string use shell syntax (pipes, redirection,
// env expansion) the same way the declared command line would run if
// typed at an interactive shell.
func spawnChild(sc *ServiceConfig, global GlobalConfig) (*os.Process, error) {
	cred, err := lookupCredential(sc.User, sc.Group)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command("/bin/sh", "-c", sc.Cmd)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{}
	if cred != nil {
		// Go's forkAndExecInChild applies Credential.Gid before
		// Credential.Uid, matching the required "gid then uid" order
		// so that dropping uid privilege doesn't revoke the ability
		// to change gid.
		cmd.SysProcAttr.Credential = cred
	}

	mask, hasMask := effectiveUmask(sc, global)
	if hasMask {
		umaskMu.Lock()
		prev := syscall.Umask(mask)
		err = cmd.Start()
		syscall.Umask(prev)
		umaskMu.Unlock()
	} else {
		err = cmd.Start()
	}
	if err != nil {
		return nil, err
	}
	return cmd.Process, nil
}

// exitRawStatus extracts the raw wait(2) status word from a completed
// process, in the same encoding waitpid(2) uses: the exit code lives in
// the high byte, so callers recover it with raw >> 8.
func exitRawStatus(ps *os.ProcessState) int {
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok {
		return int(ws)
	}
	return ps.ExitCode() << 8
}

// signalProcess sends sig to the process if it is still plausibly
// alive; it never blocks.
func signalProcess(p *os.Process, sig os.Signal) error {
	return p.Signal(sig)
}
