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

package ctrl

import (
	"bytes"
	"errors"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/gdamore/governor"
	"github.com/google/uuid"
)

const (
	idleTimeout = 30 * time.Second
	bufCap      = 64
)

var errLineTooLong = errors.New("ctrl: line exceeds buffer")

// session is one accepted connection. Its id exists purely for log
// correlation; the wire protocol itself is anonymous.
type session struct {
	id   uuid.UUID
	conn net.Conn
	sup  *governor.Supervisor
	log  governor.Logger
}

func newSession(sup *governor.Supervisor, log governor.Logger, conn net.Conn) *session {
	return &session{id: uuid.New(), conn: conn, sup: sup, log: log}
}

func (s *session) run() {
	defer s.conn.Close()
	s.log.Logf(governor.LevelDebug, "ctrl[%s]: connected from %s", s.id, s.conn.RemoteAddr())

	buf := make([]byte, 0, bufCap)
	chunk := make([]byte, bufCap)
	for {
		s.conn.SetReadDeadline(time.Now().Add(idleTimeout))

		nl := bytes.IndexByte(buf, '\n')
		for nl < 0 {
			if len(buf) >= bufCap {
				s.log.Logf(governor.LevelDebug, "ctrl[%s]: %v", s.id, errLineTooLong)
				return
			}
			n, err := s.conn.Read(chunk)
			if err != nil {
				if !errors.Is(err, net.ErrClosed) {
					s.log.Logf(governor.LevelDebug, "ctrl[%s]: read: %v", s.id, err)
				}
				return
			}
			if len(buf)+n > bufCap {
				s.log.Logf(governor.LevelDebug, "ctrl[%s]: %v", s.id, errLineTooLong)
				return
			}
			buf = append(buf, chunk[:n]...)
			nl = bytes.IndexByte(buf, '\n')
		}

		line := strings.TrimRight(string(buf[:nl]), "\r")
		buf = buf[nl+1:]

		if line == "quit" || line == "." {
			return
		}

		reply := s.dispatch(line)
		if _, err := s.conn.Write([]byte(reply)); err != nil {
			s.log.Logf(governor.LevelDebug, "ctrl[%s]: write: %v", s.id, err)
			return
		}
	}
}

// dispatch implements the request grammar of §4.3 for one accepted
// line, and always returns the leading-newline-then-response text the
// wire format requires.
func (s *session) dispatch(line string) string {
	if line == "status" {
		var b strings.Builder
		b.WriteByte('\n')
		for _, name := range sortedNames(s.sup) {
			tuple, err := s.sup.Status(name)
			if err != nil {
				continue
			}
			b.WriteString(name)
			b.WriteByte(' ')
			b.WriteString(strings.Join(tuple, " "))
			b.WriteByte('\n')
		}
		return b.String()
	}

	fields := strings.Fields(line)
	if len(fields) != 2 {
		return "\n" + line + " unknown\n"
	}
	verb, svc := fields[0], fields[1]
	op, ok := commandTable[verb]
	if !ok {
		return "\n" + line + " unknown\n"
	}

	result, known, err := op(s.sup, svc)
	if !known {
		return "\n" + line + " unknown\n"
	}
	if err != nil {
		s.log.Logf(governor.LevelDebug, "ctrl[%s]: %s: %v", s.id, line, err)
	}
	rendered := "fail"
	if len(result) > 0 {
		rendered = strings.Join(result, " ")
	}
	return "\n" + line + " " + rendered + "\n"
}

// sortedNames gives the "status" bare command a stable order to print
// in, even though §4.3 does not mandate one.
func sortedNames(sup *governor.Supervisor) []string {
	names := sup.ServiceNames()
	sort.Strings(names)
	return names
}
