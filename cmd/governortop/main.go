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

// Command governortop is a live terminal dashboard for a running
// governord. Unlike the teacher's curses UI, which read its Manager
// in-process, this is purely a control-protocol client: everything it
// shows comes from polling the "status" verb over the same socket
// governorctl and operators use.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"net"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gdamore/tcell"
)

var connectAddr = flag.String("connect", "unix/:/var/run/governor.sock", "control-socket endpoint")
var pollInterval = flag.Duration("interval", time.Second, "status poll interval")

type row struct {
	name, state, pid, uptime string
}

func main() {
	flag.Parse()

	screen, err := tcell.NewScreen()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := screen.Init(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer screen.Fini()

	events := make(chan tcell.Event, 8)
	go func() {
		for {
			events <- screen.PollEvent()
		}
	}()

	selected := 0
	rows := []row{}
	ticker := time.NewTicker(*pollInterval)
	defer ticker.Stop()

	refresh := func() {
		rows = pollStatus(*connectAddr)
		draw(screen, rows, selected)
	}
	refresh()

	for {
		select {
		case ev := <-events:
			switch ev := ev.(type) {
			case *tcell.EventResize:
				screen.Sync()
				draw(screen, rows, selected)
			case *tcell.EventKey:
				switch ev.Key() {
				case tcell.KeyEscape, tcell.KeyCtrlC:
					return
				case tcell.KeyUp:
					if selected > 0 {
						selected--
					}
				case tcell.KeyDown:
					if selected < len(rows)-1 {
						selected++
					}
				case tcell.KeyRune:
					switch ev.Rune() {
					case 'q':
						return
					case 'u':
						sendVerb(*connectAddr, "up", rows, selected)
					case 'd':
						sendVerb(*connectAddr, "down", rows, selected)
					case 'o':
						sendVerb(*connectAddr, "once", rows, selected)
					}
				}
				draw(screen, rows, selected)
			}
		case <-ticker.C:
			refresh()
		}
	}
}

func sendVerb(addr, verb string, rows []row, selected int) {
	if selected < 0 || selected >= len(rows) {
		return
	}
	conn, err := dialEndpoint(addr)
	if err != nil {
		return
	}
	defer conn.Close()
	fmt.Fprintf(conn, "%s %s\n.\n", verb, rows[selected].name)
}

func dialEndpoint(addr string) (net.Conn, error) {
	network, address := "tcp", addr
	if rest, ok := strings.CutPrefix(addr, "unix/:"); ok {
		network, address = "unix", rest
	} else if strings.HasPrefix(addr, "/") {
		network = "unix"
	}
	return net.DialTimeout(network, address, 2*time.Second)
}

func pollStatus(addr string) []row {
	conn, err := dialEndpoint(addr)
	if err != nil {
		return nil
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))
	fmt.Fprintf(conn, "status\n.\n")

	var rows []row
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		r := row{name: fields[0], state: "-", pid: "-", uptime: "-"}
		if len(fields) > 1 {
			r.state = fields[1]
		}
		if len(fields) > 2 {
			r.pid = fields[2]
		}
		if len(fields) > 3 {
			r.uptime = fields[3]
		}
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].name < rows[j].name })
	return rows
}

func draw(screen tcell.Screen, rows []row, selected int) {
	screen.Clear()
	normal := tcell.StyleDefault
	hi := tcell.StyleDefault.Reverse(true)

	drawText(screen, 0, 0, normal, "NAME                 STATE     PID       UPTIME")
	for i, r := range rows {
		style := normal
		if i == selected {
			style = hi
		}
		line := fmt.Sprintf("%-20s %-9s %-9s %s", r.name, r.state, r.pid, r.uptime)
		drawText(screen, 0, i+1, style, line)
	}
	drawText(screen, 0, len(rows)+2, normal, "[u]p [d]own [o]nce  [q]uit")
	screen.Show()
}

func drawText(screen tcell.Screen, x, y int, style tcell.Style, text string) {
	for i, r := range text {
		screen.SetContent(x+i, y, r, nil, style)
	}
}
