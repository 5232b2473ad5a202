package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// Recorder aggregates in-memory counters and gauges for HTTP requests,
// streaming session lifecycle, capture loop health, and authentication
// outcomes. It coordinates concurrent writers via a RWMutex while exposing
// thread-safe gauges for active session tracking.
type Recorder struct {
	mu              sync.RWMutex
	requestCount    map[requestLabel]uint64
	requestDuration map[requestLabel]time.Duration
	sessionEvents   map[SessionLabel]uint64
	captureEvents   map[string]uint64
	authOutcomes    map[string]uint64
	activeSessions  atomic.Int64
}

// SessionLabel identifies a streaming session lifecycle event by media kind
// ("video" or "audio") and event name ("start", "stop", "stale_abort").
type SessionLabel struct {
	Kind  string
	Event string
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers
// can immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:    make(map[requestLabel]uint64),
		requestDuration: make(map[requestLabel]time.Duration),
		sessionEvents:   make(map[SessionLabel]uint64),
		captureEvents:   make(map[string]uint64),
		authOutcomes:    make(map[string]uint64),
	}
}

// Default returns the singleton Recorder instance shared across packages that
// do not require custom instrumentation pipelines.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest accumulates totals for request count and cumulative duration
// by HTTP method, normalized path, and status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// SessionStarted records a streaming session start and increments the active
// session gauge.
func (r *Recorder) SessionStarted(kind string) {
	r.recordSessionEvent(kind, "start")
	r.activeSessions.Add(1)
}

// SessionStopped records a streaming session stop and decrements the active
// session gauge, guarding against negative counts when updates race.
func (r *Recorder) SessionStopped(kind string) {
	r.recordSessionEvent(kind, "stop")
	r.decrementSessions()
}

// SessionAborted records a session terminated by the stale-read budget.
func (r *Recorder) SessionAborted(kind string) {
	r.recordSessionEvent(kind, "stale_abort")
	r.decrementSessions()
}

func (r *Recorder) recordSessionEvent(kind, event string) {
	label := SessionLabel{Kind: normalizeName(kind), Event: normalizeName(event)}
	r.mu.Lock()
	r.sessionEvents[label]++
	r.mu.Unlock()
}

func (r *Recorder) decrementSessions() {
	for {
		current := r.activeSessions.Load()
		if current <= 0 {
			return
		}
		if r.activeSessions.CompareAndSwap(current, current-1) {
			return
		}
	}
}

// ObserveCaptureEvent records capture loop lifecycle events keyed by name
// (e.g. "video_open_retry", "audio_read_error").
func (r *Recorder) ObserveCaptureEvent(event string) {
	name := normalizeName(event)
	r.mu.Lock()
	r.captureEvents[name]++
	r.mu.Unlock()
}

// ObserveAuth records the outcome of a Basic-auth attempt ("accepted",
// "rejected", "missing").
func (r *Recorder) ObserveAuth(outcome string) {
	name := normalizeName(outcome)
	r.mu.Lock()
	r.authOutcomes[name]++
	r.mu.Unlock()
}

// ActiveSessions exposes the current gauge of concurrently streaming clients.
func (r *Recorder) ActiveSessions() int64 {
	return r.activeSessions.Load()
}

// SessionCounts returns a copy of the session event counters for tests.
func (r *Recorder) SessionCounts() map[SessionLabel]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	events := make(map[SessionLabel]uint64, len(r.sessionEvents))
	for k, v := range r.sessionEvents {
		events[k] = v
	}
	return events
}

// Reset clears all counters and gauges on the recorder. It is intended for
// test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.sessionEvents = make(map[SessionLabel]uint64)
	r.captureEvents = make(map[string]uint64)
	r.authOutcomes = make(map[string]uint64)
	r.activeSessions.Store(0)
}

// Handler exposes the Recorder as an http.Handler that writes Prometheus text
// exposition data with the appropriate content type.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the Recorder's metrics in Prometheus text format, sorting
// label sets to provide stable output for scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	sessionLabels := r.sortedSessionLabels()
	captureEvents := sortedKeys(r.captureEvents)
	authOutcomes := sortedKeys(r.authOutcomes)

	fmt.Fprintln(w, "# HELP sentrycam_http_requests_total Total number of HTTP requests processed")
	fmt.Fprintln(w, "# TYPE sentrycam_http_requests_total counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "sentrycam_http_requests_total{method=%q,path=%q,status=%q} %d\n",
			label.method, label.path, label.status, r.requestCount[label])
	}

	fmt.Fprintln(w, "# HELP sentrycam_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE sentrycam_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "sentrycam_http_request_duration_seconds_sum{method=%q,path=%q,status=%q} %f\n",
			label.method, label.path, label.status, r.requestDuration[label].Seconds())
	}

	fmt.Fprintln(w, "# HELP sentrycam_stream_sessions_total Streaming session lifecycle events by kind")
	fmt.Fprintln(w, "# TYPE sentrycam_stream_sessions_total counter")
	for _, label := range sessionLabels {
		fmt.Fprintf(w, "sentrycam_stream_sessions_total{kind=%q,event=%q} %d\n",
			label.Kind, label.Event, r.sessionEvents[label])
	}

	fmt.Fprintln(w, "# HELP sentrycam_active_sessions Current number of connected streaming clients")
	fmt.Fprintln(w, "# TYPE sentrycam_active_sessions gauge")
	fmt.Fprintf(w, "sentrycam_active_sessions %d\n", r.activeSessions.Load())

	fmt.Fprintln(w, "# HELP sentrycam_capture_events_total Capture loop lifecycle events")
	fmt.Fprintln(w, "# TYPE sentrycam_capture_events_total counter")
	for _, event := range captureEvents {
		fmt.Fprintf(w, "sentrycam_capture_events_total{event=%q} %d\n", event, r.captureEvents[event])
	}

	fmt.Fprintln(w, "# HELP sentrycam_auth_attempts_total Basic-auth attempts by outcome")
	fmt.Fprintln(w, "# TYPE sentrycam_auth_attempts_total counter")
	for _, outcome := range authOutcomes {
		fmt.Fprintf(w, "sentrycam_auth_attempts_total{outcome=%q} %d\n", outcome, r.authOutcomes[outcome])
	}
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func (r *Recorder) sortedSessionLabels() []SessionLabel {
	labels := make([]SessionLabel, 0, len(r.sessionEvents))
	for label := range r.sessionEvents {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].Kind != labels[j].Kind {
			return labels[i].Kind < labels[j].Kind
		}
		return labels[i].Event < labels[j].Event
	})
	return labels
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// normalizePath collapses API paths that embed user-supplied segments so the
// label cardinality stays bounded.
func normalizePath(path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "/"
	}
	segments := strings.Split(trimmed, "/")
	// /api/<version>/users/<name> -> /api/<version>/users/:name
	if len(segments) > 4 && segments[1] == "api" {
		return strings.Join(segments[:4], "/") + "/:name"
	}
	return trimmed
}
