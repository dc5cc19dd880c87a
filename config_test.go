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
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestParseConfigDefaults(t *testing.T) {
	Convey("A config with one bare-string command", t, func() {
		cfg, err := ParseConfig(map[string]interface{}{
			"run": map[string]interface{}{"a": "a"},
		})
		So(err, ShouldBeNil)
		sc, ok := cfg.Services["a"]
		So(ok, ShouldBeTrue)
		So(sc.Name, ShouldEqual, "a")
		So(sc.Cmd, ShouldEqual, "a")
		So(sc.StartRetries, ShouldEqual, DefaultStartRetries)
		So(sc.RestartDelay, ShouldEqual, DefaultRestartDelay)
		So(sc.StartWait, ShouldEqual, DefaultStartWait)
		So(sc.StopWait, ShouldEqual, DefaultStopWait)
	})
}

func TestParseConfigMissingRun(t *testing.T) {
	Convey("A config with no run key", t, func() {
		_, err := ParseConfig(map[string]interface{}{})
		So(err, ShouldNotBeNil)
		So(err.Error(), ShouldEqual, "Commands must be passed as a HASH ref")
	})
}

func TestParseConfigEmptyRun(t *testing.T) {
	Convey("A config with an empty run map", t, func() {
		_, err := ParseConfig(map[string]interface{}{
			"run": map[string]interface{}{},
		})
		So(err, ShouldNotBeNil)
		So(err.Error(), ShouldEqual, "Missing command list")
	})
}

func TestParseConfigMissingCommand(t *testing.T) {
	Convey("A service entry with no cmd", t, func() {
		_, err := ParseConfig(map[string]interface{}{
			"run": map[string]interface{}{"a": map[string]interface{}{}},
		})
		So(err, ShouldNotBeNil)
		So(err.Error(), ShouldEqual, "Missing command for 'a'")
	})
	Convey("A falsy service entry", t, func() {
		_, err := ParseConfig(map[string]interface{}{
			"run": map[string]interface{}{"a": ""},
		})
		So(err, ShouldNotBeNil)
		So(err.Error(), ShouldEqual, "Missing command for 'a'")
	})
}

func TestParseConfigNonPositiveOverridesFallBack(t *testing.T) {
	Convey("Non-positive timing overrides fall back to defaults", t, func() {
		cfg, err := ParseConfig(map[string]interface{}{
			"run": map[string]interface{}{
				"a": map[string]interface{}{
					"cmd":           "a",
					"restart_delay": 0,
					"start_wait":    -1,
				},
			},
		})
		So(err, ShouldBeNil)
		sc := cfg.Services["a"]
		So(sc.RestartDelay, ShouldEqual, DefaultRestartDelay)
		So(sc.StartWait, ShouldEqual, DefaultStartWait)
	})

	Convey("A negative stop_wait falls back, but a positive one is kept", t, func() {
		cfg, err := ParseConfig(map[string]interface{}{
			"run": map[string]interface{}{
				"a": map[string]interface{}{"cmd": "a", "stop_wait": -1},
			},
		})
		So(err, ShouldBeNil)
		So(cfg.Services["a"].StopWait, ShouldEqual, DefaultStopWait)

		cfg, err = ParseConfig(map[string]interface{}{
			"run": map[string]interface{}{
				"a": map[string]interface{}{"cmd": "a", "stop_wait": 5},
			},
		})
		So(err, ShouldBeNil)
		So(cfg.Services["a"].StopWait, ShouldEqual, 5*time.Second)
	})
}

func TestParseConfigGlobalAndLog(t *testing.T) {
	Convey("Global and log sections are parsed", t, func() {
		cfg, err := ParseConfig(map[string]interface{}{
			"run":    map[string]interface{}{"a": "a"},
			"global": map[string]interface{}{"listen": "unix/:/tmp/x.sock"},
			"log":    map[string]interface{}{"level": 8, "file": "/tmp/x.log"},
		})
		So(err, ShouldBeNil)
		So(cfg.Global.Listen, ShouldEqual, "unix/:/tmp/x.sock")
		So(cfg.Log.Level, ShouldEqual, 8)
		So(cfg.Log.File, ShouldEqual, "/tmp/x.log")
	})

	Convey("SV_DEBUG forces log level to debug", t, func() {
		t.Setenv("SV_DEBUG", "1")
		cfg, err := ParseConfig(map[string]interface{}{
			"run": map[string]interface{}{"a": "a"},
		})
		So(err, ShouldBeNil)
		So(cfg.Log.Level, ShouldEqual, LevelDebug)
	})
}
