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
	"fmt"
	"os"
	"time"
)

// Defaults applied to any ServiceConfig field left unset or given an
// out-of-range value. See spec §6.
const (
	DefaultStartRetries = 8
	DefaultRestartDelay = time.Second
	DefaultStartWait    = time.Second
	DefaultStopWait     = time.Duration(0)
)

// ServiceConfig is the immutable-after-init configuration for a single
// declared service.
type ServiceConfig struct {
	Name         string
	Cmd          string
	StartRetries int
	RestartDelay time.Duration
	StartWait    time.Duration
	StopWait     time.Duration
	Umask        *int
	User         string
	Group        string
}

// GlobalConfig carries process-wide defaults that are not specific to
// any one service.
type GlobalConfig struct {
	Listen string
	Umask  *int
}

// LogConfig describes how the engine's leveled logger should be set up.
// governor itself never opens files or picks a sink; this is consumed
// by the collaborator that builds a Logger (see cmd/governord).
type LogConfig struct {
	Level    int
	File     string
	TSFormat string
}

// Config is the fully parsed, defaulted configuration for a Supervisor.
type Config struct {
	Services map[string]*ServiceConfig
	Global   GlobalConfig
	Log      LogConfig
}

// configError carries one of spec.md §6's fatal configuration messages
// verbatim in Error(), while still satisfying errors.Is(err, ErrConfig)
// for callers that only care about the error's category.
type configError struct {
	msg string
}

func (e *configError) Error() string { return e.msg }
func (e *configError) Unwrap() error { return ErrConfig }

func configErrorf(format string, args ...interface{}) error {
	return &configError{msg: fmt.Sprintf(format, args...)}
}

// isFalsy mimics the truthiness rules of the dynamic-language config
// source this engine's wire protocol was modeled on: nil, false, 0,
// "", and empty maps/slices are all falsy.
func isFalsy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case bool:
		return !t
	case string:
		return t == ""
	case int:
		return t == 0
	case int64:
		return t == 0
	case float64:
		return t == 0
	case map[string]interface{}:
		return len(t) == 0
	case []interface{}:
		return len(t) == 0
	}
	return false
}

func asString(v interface{}) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asInt(v interface{}, def int) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	}
	return def
}

func asSeconds(v interface{}, def time.Duration) time.Duration {
	switch t := v.(type) {
	case int:
		return time.Duration(t) * time.Second
	case int64:
		return time.Duration(t) * time.Second
	case float64:
		return time.Duration(t * float64(time.Second))
	}
	return def
}

// ParseServiceConfig builds a defaulted ServiceConfig for one entry of
// the "run" map. raw is either a bare command string, or a map shaped
// like the ServiceConfig fields (see spec §6). name is the run-map key,
// always written into the result's Name field regardless of what (if
// anything) the map itself said.
func ParseServiceConfig(name string, raw interface{}) (*ServiceConfig, error) {
	if isFalsy(raw) {
		return nil, configErrorf("Missing command for '%s'", name)
	}

	var m map[string]interface{}
	if s, ok := asString(raw); ok {
		m = map[string]interface{}{"cmd": s}
	} else if mm, ok := raw.(map[string]interface{}); ok {
		m = mm
	} else {
		return nil, configErrorf("Missing command for '%s'", name)
	}

	cmd, ok := asString(m["cmd"])
	if !ok || cmd == "" {
		return nil, configErrorf("Missing command for '%s'", name)
	}

	sc := &ServiceConfig{
		Name:         name,
		Cmd:          cmd,
		StartRetries: DefaultStartRetries,
		RestartDelay: DefaultRestartDelay,
		StartWait:    DefaultStartWait,
		StopWait:     DefaultStopWait,
	}
	if v, ok := m["start_retries"]; ok {
		sc.StartRetries = asInt(v, DefaultStartRetries)
	}
	if v, ok := m["restart_delay"]; ok {
		d := asSeconds(v, DefaultRestartDelay)
		if d <= 0 {
			d = DefaultRestartDelay
		}
		sc.RestartDelay = d
	}
	if v, ok := m["start_wait"]; ok {
		d := asSeconds(v, DefaultStartWait)
		if d <= 0 {
			d = DefaultStartWait
		}
		sc.StartWait = d
	}
	if v, ok := m["stop_wait"]; ok {
		d := asSeconds(v, DefaultStopWait)
		if d < 0 {
			d = DefaultStopWait
		}
		sc.StopWait = d
	}
	if v, ok := m["umask"].(int); ok {
		sc.Umask = &v
	}
	if v, ok := asString(m["user"]); ok {
		sc.User = v
	}
	if v, ok := asString(m["group"]); ok {
		sc.Group = v
	}
	return sc, nil
}

// ParseConfig validates and defaults a raw, already-decoded (e.g. from
// YAML or JSON) configuration document against the grammar of spec §6.
// It is the only place governor produces the fatal configuration errors
// named there.
func ParseConfig(raw map[string]interface{}) (*Config, error) {
	runRaw, ok := raw["run"]
	runMap, mapOk := runRaw.(map[string]interface{})
	if !ok || !mapOk {
		return nil, configErrorf("Commands must be passed as a HASH ref")
	}
	if len(runMap) == 0 {
		return nil, configErrorf("Missing command list")
	}

	cfg := &Config{Services: make(map[string]*ServiceConfig, len(runMap))}
	for name, v := range runMap {
		sc, err := ParseServiceConfig(name, v)
		if err != nil {
			return nil, err
		}
		cfg.Services[name] = sc
	}

	if g, ok := raw["global"].(map[string]interface{}); ok {
		if v, ok := asString(g["listen"]); ok {
			cfg.Global.Listen = v
		}
		if v, ok := g["umask"].(int); ok {
			cfg.Global.Umask = &v
		}
	}

	cfg.Log.Level = 5
	if l, ok := raw["log"].(map[string]interface{}); ok {
		if v, ok := l["level"]; ok {
			cfg.Log.Level = asInt(v, cfg.Log.Level)
		}
		if v, ok := asString(l["file"]); ok {
			cfg.Log.File = v
		}
		if v, ok := asString(l["ts_format"]); ok {
			cfg.Log.TSFormat = v
		}
	}
	if debug := os.Getenv("SV_DEBUG"); debug != "" && debug != "0" {
		cfg.Log.Level = LevelDebug
	}

	return cfg, nil
}
