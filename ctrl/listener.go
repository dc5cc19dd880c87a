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
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/gdamore/governor"
)

// Server owns the control-socket listener and hands off every accepted
// connection to a newly minted session.
type Server struct {
	sup *governor.Supervisor
	log governor.Logger
	ln  net.Listener
}

// parseEndpoint interprets the listen-endpoint grammar of §4.3:
// "unix/:<path>" (or a bare filesystem path) selects a Unix domain
// socket; anything else is handed to net.Listen as a TCP address.
func parseEndpoint(addr string) (network, address string) {
	if rest, ok := strings.CutPrefix(addr, "unix/:"); ok {
		return "unix", rest
	}
	if strings.HasPrefix(addr, "/") {
		return "unix", addr
	}
	return "tcp", addr
}

// Listen binds the control socket described by addr. Per §4.3, a Unix
// socket path that already exists is a fatal configuration error rather
// than something to unlink and reclaim: a stale or live socket file
// most likely means another instance is already listening there.
func Listen(sup *governor.Supervisor, log governor.Logger, addr string) (*Server, error) {
	if log == nil {
		log = discardLogger{}
	}
	network, address := parseEndpoint(addr)
	if network == "unix" {
		if _, err := os.Stat(address); err == nil {
			return nil, fmt.Errorf("%w: %s", governor.ErrListenerExists, address)
		}
	}
	ln, err := net.Listen(network, address)
	if err != nil {
		return nil, err
	}
	log.Logf(governor.LevelInfo, "control: listening on %s %s", network, ln.Addr())
	return &Server{sup: sup, log: log, ln: ln}, nil
}

// Addr returns the bound address, mostly useful in tests that listen on
// "tcp" / "127.0.0.1:0" and need to discover the ephemeral port.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Close stops accepting new connections. In-flight sessions run to
// their own natural completion (idle timeout or client-initiated quit).
func (s *Server) Close() error {
	return s.ln.Close()
}

// Serve accepts connections until the listener is closed, spawning one
// goroutine per session. Every session serializes its actual state
// mutation through the Supervisor's own lock, so any number of sessions
// may be open concurrently without additional coordination here.
func (s *Server) Serve() error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return err
		}
		go newSession(s.sup, s.log, conn).run()
	}
}

type discardLogger struct{}

func (discardLogger) Logf(int, string, ...interface{}) {}
