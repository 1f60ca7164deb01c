// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics exposes the Prometheus counters and histograms a
// long-running dulge daemon (or a --metrics-addr equipped CLI
// invocation) can serve.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry groups every counter/histogram this module emits, so a
// caller can build one with its own prometheus.Registerer (for tests)
// or register against prometheus.DefaultRegisterer in production.
type Registry struct {
	TransactionsTotal  *prometheus.CounterVec
	PackagesInstalled  prometheus.Counter
	PackagesRemoved    prometheus.Counter
	DownloadBytesTotal prometheus.Counter
	DownloadDuration   prometheus.Histogram
	ValidationFailures *prometheus.CounterVec
	RepoSyncDuration   *prometheus.HistogramVec
	InstalledPackages  prometheus.Gauge
}

// New builds a Registry and registers every metric against reg.
func New(reg prometheus.Registerer) *Registry {
	m := &Registry{
		TransactionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dulge",
			Name:      "transactions_total",
			Help:      "Transactions executed, labeled by outcome.",
		}, []string{"outcome"}),
		PackagesInstalled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dulge",
			Name:      "packages_installed_total",
			Help:      "Packages installed or updated across all transactions.",
		}),
		PackagesRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dulge",
			Name:      "packages_removed_total",
			Help:      "Packages removed across all transactions.",
		}),
		DownloadBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dulge",
			Name:      "download_bytes_total",
			Help:      "Bytes fetched from repositories and mirrors.",
		}),
		DownloadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dulge",
			Name:      "download_duration_seconds",
			Help:      "Time spent fetching a single package archive.",
			Buckets:   prometheus.DefBuckets,
		}),
		ValidationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dulge",
			Name:      "validation_failures_total",
			Help:      "Transaction validator rejections, labeled by kind.",
		}, []string{"kind"}),
		RepoSyncDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dulge",
			Name:      "repo_sync_duration_seconds",
			Help:      "Time spent refreshing one repository's repodata.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"repo"}),
		InstalledPackages: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dulge",
			Name:      "installed_packages",
			Help:      "Current size of the installed-package database.",
		}),
	}
	reg.MustRegister(
		m.TransactionsTotal,
		m.PackagesInstalled,
		m.PackagesRemoved,
		m.DownloadBytesTotal,
		m.DownloadDuration,
		m.ValidationFailures,
		m.RepoSyncDuration,
		m.InstalledPackages,
	)
	return m
}

// ObserveTransaction records the aggregate counters of a completed
// transaction against outcome ("success" or "failure").
func (m *Registry) ObserveTransaction(outcome string, installed, removed int) {
	m.TransactionsTotal.WithLabelValues(outcome).Inc()
	m.PackagesInstalled.Add(float64(installed))
	m.PackagesRemoved.Add(float64(removed))
}
