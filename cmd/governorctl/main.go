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

// Command governorctl is a thin command-line client for the control
// socket protocol described in spec.md §4.3: each subcommand sends one
// line and prints the response.
package main

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var connectAddr string

func main() {
	root := &cobra.Command{
		Use:   "governorctl",
		Short: "control a running governord over its control socket",
	}
	root.PersistentFlags().StringVar(&connectAddr, "connect", "unix/:/var/run/governor.sock", "control-socket endpoint (same syntax as global.listen)")

	root.AddCommand(
		statusCmd(),
		verbCmd("up"),
		verbCmd("once"),
		verbCmd("down"),
		verbCmd("pause"),
		verbCmd("cont"),
		verbCmd("hup"),
		verbCmd("alarm"),
		verbCmd("int"),
		verbCmd("usr1"),
		verbCmd("usr2"),
		verbCmd("term"),
		verbCmd("kill"),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "print the status of every service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendAndPrint("status")
		},
	}
}

func verbCmd(verb string) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <service>",
		Short: fmt.Sprintf("send %s to a service", verb),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendAndPrint(verb + " " + args[0])
		},
	}
}

func dialEndpoint(addr string) (net.Conn, error) {
	network := "tcp"
	address := addr
	if rest, ok := strings.CutPrefix(addr, "unix/:"); ok {
		network, address = "unix", rest
	} else if strings.HasPrefix(addr, "/") {
		network = "unix"
	}
	return net.DialTimeout(network, address, 5*time.Second)
}

// sendAndPrint speaks exactly one request/response round trip: write
// line, read until the connection either closes or goes idle, echoing
// whatever comes back. The wire format's leading blank line is printed
// as-is rather than stripped, so the output matches what "nc" would show.
func sendAndPrint(line string) error {
	conn, err := dialEndpoint(connectAddr)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := fmt.Fprintf(conn, "%s\n", line); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(conn, ".\n"); err != nil {
		return err
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		fmt.Println(scanner.Text())
	}
	return nil
}
