// Package metrics keeps process counters and renders them in the Prometheus
// text exposition format for the /api/metrics endpoint.
package metrics

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// WatcherSnapshot is sampled from the watcher registry at scrape time.
type WatcherSnapshot struct {
	Watches       int
	Inert         int
	RawEvents     uint64
	Flushed       uint64
	Filtered      uint64
	Delivered     uint64
	SinkErrors    uint64
	Dropped       uint64
	BackendErrors uint64
}

type Registry struct {
	watchRequests  atomic.Int64
	watchFailures  sync.Map
	reveals        atomic.Int64
	revealFailures atomic.Int64
	startupOpens   atomic.Int64
	wsConnections  atomic.Int64
	events         sync.Map
	subscribers    sync.Map
	watcherMu      sync.Mutex
	watcherSource  func() WatcherSnapshot
}

type eventKey struct {
	bus       string
	eventType string
}

type eventStats struct {
	published atomic.Int64
	dropped   atomic.Int64
}

type subscriberCounts struct {
	filtered   atomic.Int64
	unfiltered atomic.Int64
}

var Default = &Registry{}

func (r *Registry) IncWatchRequest() {
	if r == nil {
		return
	}
	r.watchRequests.Add(1)
}

// IncWatchFailure counts a rejected watch request by reason
// ("path_not_found", "watch_setup_failed").
func (r *Registry) IncWatchFailure(reason string) {
	if r == nil {
		return
	}
	if strings.TrimSpace(reason) == "" {
		reason = "unknown"
	}
	value, _ := r.watchFailures.LoadOrStore(reason, &atomic.Int64{})
	value.(*atomic.Int64).Add(1)
}

func (r *Registry) IncReveal(err error) {
	if r == nil {
		return
	}
	r.reveals.Add(1)
	if err != nil {
		r.revealFailures.Add(1)
	}
}

func (r *Registry) IncStartupOpen() {
	if r == nil {
		return
	}
	r.startupOpens.Add(1)
}

// WSConnected adjusts the open websocket gauge by delta.
func (r *Registry) WSConnected(delta int64) {
	if r == nil {
		return
	}
	r.wsConnections.Add(delta)
}

func (r *Registry) IncEventPublished(bus, eventType string) {
	if r == nil {
		return
	}
	r.eventStats(bus, eventType).published.Add(1)
}

func (r *Registry) IncEventDropped(bus, eventType string) {
	if r == nil {
		return
	}
	r.eventStats(bus, eventType).dropped.Add(1)
}

func (r *Registry) SetEventSubscriberCounts(bus string, filtered, unfiltered int) {
	if r == nil {
		return
	}
	value, _ := r.subscribers.LoadOrStore(bus, &subscriberCounts{})
	counts := value.(*subscriberCounts)
	counts.filtered.Store(int64(filtered))
	counts.unfiltered.Store(int64(unfiltered))
}

// SetWatcherSource installs the sampler used for watcher gauges and counters.
func (r *Registry) SetWatcherSource(source func() WatcherSnapshot) {
	if r == nil {
		return
	}
	r.watcherMu.Lock()
	r.watcherSource = source
	r.watcherMu.Unlock()
}

func (r *Registry) WritePrometheus(writer io.Writer) error {
	if r == nil {
		return nil
	}

	writeCounter(writer, "mdview_watch_requests_total", "Total watch_directory requests", r.watchRequests.Load())

	writeHelp(writer, "mdview_watch_failures_total", "Rejected watch requests by reason")
	fmt.Fprintln(writer, "# TYPE mdview_watch_failures_total counter")
	for _, reason := range sortedKeys(&r.watchFailures) {
		value, _ := r.watchFailures.Load(reason)
		fmt.Fprintf(writer, "mdview_watch_failures_total{reason=%s} %d\n", formatLabel(reason), value.(*atomic.Int64).Load())
	}

	writeCounter(writer, "mdview_reveal_requests_total", "Reveal in file manager requests", r.reveals.Load())
	writeCounter(writer, "mdview_reveal_failures_total", "Reveal in file manager failures", r.revealFailures.Load())
	writeCounter(writer, "mdview_startup_file_opens_total", "Startup files handed to the frontend", r.startupOpens.Load())
	writeGauge(writer, "mdview_websocket_connections", "Open event stream connections", r.wsConnections.Load())

	if snapshot, ok := r.sampleWatchers(); ok {
		writeGauge(writer, "mdview_watchers", "Registered directory watchers", int64(snapshot.Watches))
		writeGauge(writer, "mdview_watchers_inert", "Watchers whose root directory was removed", int64(snapshot.Inert))
		writeCounter(writer, "mdview_watcher_raw_events_total", "Raw filesystem events received", int64(snapshot.RawEvents))
		writeCounter(writer, "mdview_watcher_flushes_total", "Coalesced events flushed by the debouncer", int64(snapshot.Flushed))
		writeCounter(writer, "mdview_watcher_filtered_total", "Coalesced events rejected by the extension filter", int64(snapshot.Filtered))
		writeCounter(writer, "mdview_watcher_delivered_total", "Notifications delivered to the sink", int64(snapshot.Delivered))
		writeCounter(writer, "mdview_watcher_sink_errors_total", "Notifications the sink failed to accept", int64(snapshot.SinkErrors))
		writeCounter(writer, "mdview_watcher_dropped_total", "Notifications dropped on a full queue", int64(snapshot.Dropped))
		writeCounter(writer, "mdview_watcher_backend_errors_total", "Errors reported by the filesystem backend", int64(snapshot.BackendErrors))
	}

	keys := r.eventKeys()
	writeHelp(writer, "mdview_events_published_total", "Events published per bus and type")
	fmt.Fprintln(writer, "# TYPE mdview_events_published_total counter")
	for _, key := range keys {
		stats := r.eventStats(key.bus, key.eventType)
		fmt.Fprintf(writer, "mdview_events_published_total{bus=%s,type=%s} %d\n", formatLabel(key.bus), formatLabel(key.eventType), stats.published.Load())
	}
	writeHelp(writer, "mdview_events_dropped_total", "Events dropped per bus and type")
	fmt.Fprintln(writer, "# TYPE mdview_events_dropped_total counter")
	for _, key := range keys {
		stats := r.eventStats(key.bus, key.eventType)
		fmt.Fprintf(writer, "mdview_events_dropped_total{bus=%s,type=%s} %d\n", formatLabel(key.bus), formatLabel(key.eventType), stats.dropped.Load())
	}

	writeHelp(writer, "mdview_event_subscribers", "Event bus subscribers")
	fmt.Fprintln(writer, "# TYPE mdview_event_subscribers gauge")
	for _, bus := range sortedKeys(&r.subscribers) {
		value, _ := r.subscribers.Load(bus)
		counts := value.(*subscriberCounts)
		fmt.Fprintf(writer, "mdview_event_subscribers{bus=%s,filtered=\"true\"} %d\n", formatLabel(bus), counts.filtered.Load())
		fmt.Fprintf(writer, "mdview_event_subscribers{bus=%s,filtered=\"false\"} %d\n", formatLabel(bus), counts.unfiltered.Load())
	}

	return nil
}

func (r *Registry) sampleWatchers() (WatcherSnapshot, bool) {
	r.watcherMu.Lock()
	source := r.watcherSource
	r.watcherMu.Unlock()
	if source == nil {
		return WatcherSnapshot{}, false
	}
	return source(), true
}

func (r *Registry) eventStats(bus, eventType string) *eventStats {
	value, _ := r.events.LoadOrStore(eventKey{bus: bus, eventType: eventType}, &eventStats{})
	return value.(*eventStats)
}

func (r *Registry) eventKeys() []eventKey {
	var keys []eventKey
	r.events.Range(func(key, _ any) bool {
		if typed, ok := key.(eventKey); ok {
			keys = append(keys, typed)
		}
		return true
	})
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].bus != keys[j].bus {
			return keys[i].bus < keys[j].bus
		}
		return keys[i].eventType < keys[j].eventType
	})
	return keys
}

func sortedKeys(values *sync.Map) []string {
	var keys []string
	values.Range(func(key, _ any) bool {
		if name, ok := key.(string); ok {
			keys = append(keys, name)
		}
		return true
	})
	sort.Strings(keys)
	return keys
}

func writeHelp(writer io.Writer, metric, help string) {
	fmt.Fprintf(writer, "# HELP %s %s\n", metric, help)
}

func writeCounter(writer io.Writer, metric, help string, value int64) {
	writeHelp(writer, metric, help)
	fmt.Fprintf(writer, "# TYPE %s counter\n", metric)
	fmt.Fprintf(writer, "%s %d\n", metric, value)
}

func writeGauge(writer io.Writer, metric, help string, value int64) {
	writeHelp(writer, metric, help)
	fmt.Fprintf(writer, "# TYPE %s gauge\n", metric)
	fmt.Fprintf(writer, "%s %d\n", metric, value)
}

func formatLabel(value string) string {
	escaped := strings.ReplaceAll(value, "\\", "\\\\")
	escaped = strings.ReplaceAll(escaped, "\"", "\\\"")
	return fmt.Sprintf("\"%s\"", escaped)
}
