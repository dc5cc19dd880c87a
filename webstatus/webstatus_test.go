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

package webstatus

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gdamore/governor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func newTestSupervisor(t *testing.T) *governor.Supervisor {
	t.Helper()
	cfg, err := governor.ParseConfig(map[string]interface{}{
		"run": map[string]interface{}{"a": "sleep 5"},
	})
	require.NoError(t, err)
	return governor.New(cfg, nil)
}

func TestListServices(t *testing.T) {
	sup := newTestSupervisor(t)
	h := NewHandler(sup, prometheus.NewRegistry())

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/services", nil)
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var infos []governor.ServiceInfo
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &infos))
	require.Len(t, infos, 1)
	require.Equal(t, "a", infos[0].Name)
	require.Equal(t, governor.StateDown, infos[0].State)
}

func TestGetServiceNotFound(t *testing.T) {
	sup := newTestSupervisor(t)
	h := NewHandler(sup, prometheus.NewRegistry())

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/services/nope", nil)
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNotFound, rr.Code)
}
