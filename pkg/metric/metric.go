// Copyright 2021-2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package metric holds the Prometheus collectors exported by the link
// bring-up code.
package metric

import (
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/u-root/u-pcie/pkg/logger"
)

var log = logger.LogContainer.GetSimpleLogger()

const namespace = "upcie"

// MetricOpts contains naming pieces of the exposed metric
type MetricOpts struct {
	Subsystem string
	Name      string
	Help      string
}

func (o MetricOpts) counter() prometheus.CounterOpts {
	return prometheus.CounterOpts{Namespace: namespace, Subsystem: o.Subsystem, Name: o.Name, Help: o.Help}
}

func (o MetricOpts) gauge() prometheus.GaugeOpts {
	return prometheus.GaugeOpts{Namespace: namespace, Subsystem: o.Subsystem, Name: o.Name, Help: o.Help}
}

var (
	// Registry only holds the collectors below, so tests and the CLI see
	// exactly what bring-up reported.
	Registry = prometheus.NewRegistry()

	// TrainingTotal counts TrainLink calls by controller and outcome.
	TrainingTotal = prometheus.NewCounterVec(MetricOpts{
		Subsystem: "link", Name: "training_total",
		Help: "Link training attempts by outcome.",
	}.counter(), []string{"controller", "outcome"})

	// TrainingSeconds is the wall time of a TrainLink call.
	TrainingSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "link", Name: "training_seconds",
		Help:    "Time spent in link training.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 9),
	}, []string{"controller"})

	// LinkUp is 1 while the last observed link state was trained.
	LinkUp = prometheus.NewGaugeVec(MetricOpts{
		Subsystem: "link", Name: "up",
		Help: "Whether the link is trained.",
	}.gauge(), []string{"controller"})

	// LinkSpeed is the negotiated generation, 0 without link.
	LinkSpeed = prometheus.NewGaugeVec(MetricOpts{
		Subsystem: "link", Name: "speed_generation",
		Help: "Negotiated link generation.",
	}.gauge(), []string{"controller"})

	// LinkWidth is the negotiated lane count, 0 without link.
	LinkWidth = prometheus.NewGaugeVec(MetricOpts{
		Subsystem: "link", Name: "width_lanes",
		Help: "Negotiated link width.",
	}.gauge(), []string{"controller"})

	// PollTimeouts counts bounded polls that gave up.
	PollTimeouts = prometheus.NewCounterVec(MetricOpts{
		Subsystem: "poll", Name: "timeouts_total",
		Help: "Register polls that ran out of time.",
	}.counter(), []string{"controller", "poll"})

	// Windows is the number of translation windows last programmed.
	Windows = prometheus.NewGaugeVec(MetricOpts{
		Subsystem: "atu", Name: "windows",
		Help: "Outbound translation windows programmed.",
	}.gauge(), []string{"controller"})
)

func init() {
	Registry.MustRegister(TrainingTotal, TrainingSeconds, LinkUp, LinkSpeed, LinkWidth, PollTimeouts, Windows)
}

// Label formats a controller id the way every collector expects it.
func Label(id int) string {
	return strconv.Itoa(id)
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// StartMetrics adds the metrics handler to a http.ServeMux
func StartMetrics(mux *http.ServeMux) {
	mux.Handle("/metrics", Handler())
}

// Serve listens on addr and serves /metrics in the background.
func Serve(addr string) (net.Addr, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("could not listen: %v", err)
	}
	mux := http.NewServeMux()
	StartMetrics(mux)
	go func() {
		err := http.Serve(l, mux)
		if err != nil {
			log.Error(err)
		}
	}()
	return l.Addr(), nil
}
