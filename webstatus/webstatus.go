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

// Package webstatus exposes a read-only HTTP view of a
// governor.Supervisor's service table, plus a Prometheus metrics
// endpoint. It never drives the state machine: it is an additional
// observation surface alongside the control socket, not a replacement
// for it.
package webstatus

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gdamore/governor"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler is a Prometheus-instrumented http.Handler serving the JSON
// status endpoints described in SPEC_FULL.md §11.1.
type Handler struct {
	sup *governor.Supervisor
	mux *mux.Router

	up           *prometheus.GaugeVec
	restarts     *prometheus.CounterVec
	startCount   *prometheus.GaugeVec
	obsMu        sync.Mutex
	seenRestarts map[string]int
}

// NewHandler builds the router and registers metrics collectors against
// reg. Pass prometheus.DefaultRegisterer unless the caller wants an
// isolated registry (as tests typically do).
func NewHandler(sup *governor.Supervisor, reg prometheus.Registerer) *Handler {
	h := &Handler{
		sup:          sup,
		mux:          mux.NewRouter(),
		seenRestarts: make(map[string]int),
		up: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "governor_service_up",
			Help: "1 if the named service currently has a live child, 0 otherwise.",
		}, []string{"service"}),
		restarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "governor_service_restarts_total",
			Help: "Cumulative start attempts observed for the named service, including the first start of each retry burst.",
		}, []string{"service"}),
		startCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "governor_service_start_count",
			Help: "Current retry-burst start_count for the named service.",
		}, []string{"service"}),
	}
	if reg != nil {
		reg.MustRegister(h.up, h.restarts, h.startCount)
	}

	h.mux.HandleFunc("/services", h.listServices).Methods(http.MethodGet)
	h.mux.HandleFunc("/services/{name}", h.getService).Methods(http.MethodGet)
	h.mux.Handle("/metrics", promhttp.Handler())
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) listServices(w http.ResponseWriter, r *http.Request) {
	infos := h.sup.InfoAll()
	writeJSON(w, infos)
}

func (h *Handler) getService(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	info, err := h.sup.Info(name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, info)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// Observe updates the registered gauges/counters for name from the
// Supervisor's current view. Callers wire this to Supervisor.SetNotify
// so metrics track every state transition, not just a polling interval.
func (h *Handler) Observe(name string) {
	info, err := h.sup.Info(name)
	if err != nil {
		return
	}
	upVal := 0.0
	if info.Pid != 0 {
		upVal = 1.0
	}
	h.up.WithLabelValues(name).Set(upVal)
	h.startCount.WithLabelValues(name).Set(float64(info.StartCount))

	h.obsMu.Lock()
	defer h.obsMu.Unlock()
	if info.StartCount > h.seenRestarts[name] {
		h.restarts.WithLabelValues(name).Add(float64(info.StartCount - h.seenRestarts[name]))
		h.seenRestarts[name] = info.StartCount
	} else if info.StartCount == 0 {
		h.seenRestarts[name] = 0
	}
}
