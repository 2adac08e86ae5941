// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package metrics

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	io_prometheus_client "github.com/prometheus/client_model/go"
)

// histogramCount extracts the sample count of one histogram series.
func histogramCount(t *testing.T, observer prometheus.Observer) uint64 {
	t.Helper()
	metric, ok := observer.(prometheus.Metric)
	if !ok {
		t.Fatalf("observer %T is not a metric", observer)
	}
	var m io_prometheus_client.Metric
	if err := metric.Write(&m); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	return m.GetHistogram().GetSampleCount()
}

func TestRecordDBQuery_ObservesDuration(t *testing.T) {
	series := DBQueryDuration.WithLabelValues("get", "histogram_test")
	before := histogramCount(t, series)
	RecordDBQuery("get", "histogram_test", time.Millisecond, nil)
	RecordDBQuery("get", "histogram_test", 2*time.Millisecond, errors.New("boom"))
	if got := histogramCount(t, series); got != before+2 {
		t.Errorf("sample count = %d, want %d", got, before+2)
	}
}

func TestRecordDBQuery(t *testing.T) {
	tests := []struct {
		name      string
		operation string
		table     string
		err       error
		wantErrs  float64
		errLabel  string
	}{
		{"successful select", "select", "matches", nil, 0, ""},
		{"short error", "update", "matches", errors.New("connection refused"), 1, "connection refused"},
		{"long error truncated", "insert", "profiles", errors.New(strings.Repeat("x", 80)), 1, strings.Repeat("x", 50)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			RecordDBQuery(tt.operation, tt.table, 5*time.Millisecond, tt.err)
			if tt.err == nil {
				return
			}
			got := testutil.ToFloat64(DBQueryErrors.WithLabelValues(tt.operation, tt.table, tt.errLabel))
			if got != tt.wantErrs {
				t.Errorf("errors = %v, want %v", got, tt.wantErrs)
			}
		})
	}
}

func TestRecordCircuitBreakerTransition(t *testing.T) {
	tests := []struct {
		from, to string
		want     float64
	}{
		{"closed", "open", 2},
		{"open", "half-open", 1},
		{"half-open", "closed", 0},
	}
	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			RecordCircuitBreakerTransition("test-breaker", tt.from, tt.to)
			if got := testutil.ToFloat64(CircuitBreakerState.WithLabelValues("test-breaker")); got != tt.want {
				t.Errorf("state = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSetConnectionGauges(t *testing.T) {
	SetConnectionGauges(5, 2)
	if got := testutil.ToFloat64(WSConnections); got != 5 {
		t.Errorf("connections = %v, want 5", got)
	}
	if got := testutil.ToFloat64(WSUsers); got != 2 {
		t.Errorf("users = %v, want 2", got)
	}
}

func TestTrackActiveRequest(t *testing.T) {
	before := testutil.ToFloat64(APIActiveRequests)
	TrackActiveRequest(true)
	TrackActiveRequest(true)
	TrackActiveRequest(false)
	if got := testutil.ToFloat64(APIActiveRequests); got != before+1 {
		t.Errorf("active = %v, want %v", got, before+1)
	}
}
