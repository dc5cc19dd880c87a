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

// Package governor is a small multi-process supervisor.  It runs a
// declared set of long-running commands as child processes, restarts
// them under a retry budget when they exit, fans out operator signals
// to every live child, and exposes its state to a line-based control
// protocol (see the ctrl package) through the Supervisor type.
//
// Unlike a system init, governor is meant to be embedded by an
// application, or run as a small standalone daemon (cmd/governord), to
// manage a group of related worker processes for the duration of a
// single run. It keeps no state across its own restarts, does not
// order services by dependency, and treats "the pid is still alive
// after start_wait" as the only health signal it will ever act on.
package governor
