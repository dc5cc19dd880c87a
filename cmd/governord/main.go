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

// Command governord is the supervisor daemon: it loads a config file,
// starts the declared services, and serves the control socket (and,
// optionally, a read-only HTTP status/metrics endpoint) until it
// receives TERM or an INT with no children left alive.
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gdamore/governor"
	"github.com/gdamore/governor/ctrl"
	"github.com/gdamore/governor/webstatus"
	"github.com/google/renameio/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	"vawter.tech/stopper"
)

var (
	configPath  string
	listenAddr  string
	metricsAddr string
	stateFile   string
)

func main() {
	root := &cobra.Command{
		Use:   "governord",
		Short: "run the process supervisor",
		RunE:  run,
	}
	root.Flags().StringVarP(&configPath, "config", "c", "governor.yaml", "path to the YAML config file")
	root.Flags().StringVar(&listenAddr, "listen", "", "override the config's global.listen control-socket address")
	root.Flags().StringVar(&metricsAddr, "metrics-addr", "", "if set, serve HTTP status/metrics on this address")
	root.Flags().StringVar(&stateFile, "state-file", "", "if set, write a JSON status snapshot here after every service state change")

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.Global.Listen = listenAddr
	}

	logger := governor.NewLevelLogger(cfg.Log.Level, os.Stderr)
	if cfg.Log.TSFormat != "" {
		logger.SetTimestampFormat(cfg.Log.TSFormat)
	}
	if cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		defer f.Close()
		logger.AddWriter(f)
	}

	sup := governor.New(cfg, logger)

	var status *webstatus.Handler
	if metricsAddr != "" {
		status = webstatus.NewHandler(sup, prometheus.DefaultRegisterer)
	}
	sup.SetNotify(func(name string) {
		if status != nil {
			status.Observe(name)
		}
		if stateFile != "" {
			writeSnapshot(sup, stateFile, logger)
		}
	})

	for name := range cfg.Services {
		if _, ok, err := sup.Up(name); err != nil {
			logger.Logf(governor.LevelError, "%s: %v", name, err)
		} else if !ok {
			logger.Logf(governor.LevelWarn, "%s: did not start", name)
		}
	}

	sctx := stopper.WithContext(context.Background())

	if cfg.Global.Listen != "" {
		srv, err := ctrl.Listen(sup, logger, cfg.Global.Listen)
		if err != nil {
			return err
		}
		sctx.Defer(func() { srv.Close() })
		sctx.Go(func(*stopper.Context) error {
			if err := srv.Serve(); err != nil {
				logger.Logf(governor.LevelDebug, "control: %v", err)
			}
			return nil
		})
	}

	if metricsAddr != "" {
		httpSrv := &http.Server{Addr: metricsAddr, Handler: status}
		sctx.Go(func(*stopper.Context) error {
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Logf(governor.LevelError, "metrics: %v", err)
			}
			return nil
		})
		sctx.Defer(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			httpSrv.Shutdown(ctx)
		})
	}

	sctx.Go(func(sc *stopper.Context) error {
		watchConfig(sc, configPath, sup, logger)
		return nil
	})

	sup.Run()

	sctx.Stop(2 * time.Second)
	return sctx.Wait()
}

func loadConfig(path string) (*governor.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return governor.ParseConfig(raw)
}

// watchConfig re-parses configPath whenever it changes on disk and
// diffs the run table against sup's live services (SPEC_FULL.md §10.2):
// new entries are added but left down, removed entries stop being
// auto-restarted, and changed fields on a currently-stopped service
// take effect the next time it starts.
func watchConfig(sc *stopper.Context, path string, sup *governor.Supervisor, logger governor.Logger) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Logf(governor.LevelWarn, "config watch: %v", err)
		return
	}
	defer watcher.Close()
	if err := watcher.Add(path); err != nil {
		logger.Logf(governor.LevelWarn, "config watch: %v", err)
		return
	}

	for {
		select {
		case <-sc.Stopping():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := loadConfig(path)
			if err != nil {
				logger.Logf(governor.LevelWarn, "config reload: %v", err)
				continue
			}
			applyConfigDiff(sup, cfg, logger)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Logf(governor.LevelDebug, "config watch: %v", err)
		}
	}
}

func applyConfigDiff(sup *governor.Supervisor, cfg *governor.Config, logger governor.Logger) {
	live := make(map[string]bool)
	for _, name := range sup.ServiceNames() {
		live[name] = true
	}
	for name, sc := range cfg.Services {
		sup.Configure(sc)
		delete(live, name)
	}
	for name := range live {
		sup.RemoveService(name)
		logger.Logf(governor.LevelInfo, "%s: removed from config", name)
	}
}

func writeSnapshot(sup *governor.Supervisor, path string, logger governor.Logger) {
	data, err := marshalSnapshot(sup)
	if err != nil {
		logger.Logf(governor.LevelDebug, "state snapshot: %v", err)
		return
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		logger.Logf(governor.LevelDebug, "state snapshot: %v", err)
	}
}

func marshalSnapshot(sup *governor.Supervisor) ([]byte, error) {
	return json.MarshalIndent(sup.InfoAll(), "", "  ")
}
