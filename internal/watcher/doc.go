// Package watcher implements the debounced directory watcher behind the
// file-changed notifications.
//
// Raw filesystem events flow from a Backend subscription into a per-path
// debouncer. When a path has been quiet for the debounce window its last seen
// kind is flushed, filtered against the image extension allow-list and handed
// to the notifier, which delivers a ChangeNotification to the Sink from its own
// goroutine. Delivery is best-effort: sink failures are logged and counted but
// never stop the watcher.
//
// Watchers are owned by a Registry for the lifetime of the process and are
// only closed at shutdown.
package watcher
