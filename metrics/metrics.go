/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package metrics exports per-port PTP counters and clock state, both
// as a Prometheus registry and as a JSON snapshot.
package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/ptpdaemon/ptpd/ptp/datasets"
	"github.com/ptpdaemon/ptpd/ptp/engine"
)

// PortSnapshot is a point-in-time view of one port's counters and
// data sets, the unit the JSON and Prometheus exporters both work
// from.
type PortSnapshot struct {
	Name     string
	DS       datasets.DataSets
	Counters engine.Counters
}

// PortSource is whatever can produce a PortSnapshot - satisfied by
// *engine.Port plus a name.
type PortSource interface {
	Name() string
	DataSets() datasets.DataSets
	Counters() engine.Counters
}

// Registry collects snapshots from every running port on demand and
// exposes them through Prometheus and JSON.
type Registry struct {
	sources []PortSource
	reg     *prometheus.Registry

	offset    *prometheus.GaugeVec
	pathDelay *prometheus.GaugeVec
	rxTotal   *prometheus.GaugeVec
	seqErrors *prometheus.GaugeVec
	state     *prometheus.GaugeVec
}

// NewRegistry builds a Registry with its Prometheus collectors
// pre-registered.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		offset: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ptp_offset_from_master_ns",
			Help: "Current offset from master, in nanoseconds.",
		}, []string{"port"}),
		pathDelay: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ptp_mean_path_delay_ns",
			Help: "Current mean path delay, in nanoseconds.",
		}, []string{"port"}),
		rxTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ptp_rx_sync_total",
			Help: "Total Sync messages received.",
		}, []string{"port"}),
		seqErrors: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ptp_sequence_mismatch_errors_total",
			Help: "Total Delay_Resp/Pdelay_Resp sequence mismatches.",
		}, []string{"port"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ptp_port_state",
			Help: "Current port state, as the numeric IEEE 1588 portState value.",
		}, []string{"port"}),
	}
	r.reg.MustRegister(r.offset, r.pathDelay, r.rxTotal, r.seqErrors, r.state)
	return r
}

// Register adds a port to the set this Registry reports on.
func (r *Registry) Register(p PortSource) {
	r.sources = append(r.sources, p)
}

// refresh pulls a fresh snapshot of every registered port into the
// Prometheus gauges.
func (r *Registry) refresh() {
	for _, p := range r.sources {
		name := p.Name()
		ds := p.DataSets()
		c := p.Counters()
		r.offset.WithLabelValues(name).Set(float64(ds.Current.OffsetFromMaster.Duration().Nanoseconds()))
		r.pathDelay.WithLabelValues(name).Set(float64(ds.Current.MeanPathDelay.Duration().Nanoseconds()))
		r.rxTotal.WithLabelValues(name).Set(float64(c.RxSync))
		r.seqErrors.WithLabelValues(name).Set(float64(c.SequenceMismatchErrors))
		r.state.WithLabelValues(name).Set(float64(ds.Port.PortState))
	}
}

// Snapshot returns the current PortSnapshot for every registered port,
// the shape the JSON handler and ptpdctl's status command both read.
func (r *Registry) Snapshot() []PortSnapshot {
	out := make([]PortSnapshot, 0, len(r.sources))
	for _, p := range r.sources {
		out = append(out, PortSnapshot{Name: p.Name(), DS: p.DataSets(), Counters: p.Counters()})
	}
	return out
}

// ServeJSON writes the current snapshot of every port as JSON.
func (r *Registry) ServeJSON(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(r.Snapshot()); err != nil {
		log.Errorf("metrics: encoding snapshot: %v", err)
	}
}

// Start runs the Prometheus and JSON HTTP handlers on addr until the
// process exits; it refreshes the Prometheus gauges on every scrape,
// mirroring sptp/stats's PrometheusExporter.scrapeMetrics.
func (r *Registry) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, req *http.Request) {
		r.refresh()
		promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{EnableOpenMetrics: true}).ServeHTTP(w, req)
	})
	mux.HandleFunc("/status", r.ServeJSON)
	log.Infof("metrics: listening on %s", addr)
	return http.ListenAndServe(addr, mux)
}

// String renders one PortSnapshot as a single human-readable line, for
// logging and for ptpdctl's plain-text fallback.
func (s PortSnapshot) String() string {
	return fmt.Sprintf("%s: state=%s offset=%s pathDelay=%s seqErrors=%d",
		s.Name, s.DS.Port.PortState, s.DS.Current.OffsetFromMaster.Duration(),
		s.DS.Current.MeanPathDelay.Duration(), s.Counters.SequenceMismatchErrors)
}
