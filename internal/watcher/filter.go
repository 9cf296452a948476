package watcher

import "strings"

// ImageExtensions is the fixed allow-list of suffixes that produce notifications.
var ImageExtensions = []string{"png", "jpg", "jpeg", "gif", "svg", "webp", "bmp"}

type extensionFilter struct {
	suffixes []string
}

func newExtensionFilter() extensionFilter {
	suffixes := make([]string, 0, len(ImageExtensions))
	for _, extension := range ImageExtensions {
		suffixes = append(suffixes, "."+extension)
	}
	return extensionFilter{suffixes: suffixes}
}

// allows matches the literal suffix. Case is significant: "a.JPG" is rejected.
func (filter extensionFilter) allows(path string) bool {
	for _, suffix := range filter.suffixes {
		if strings.HasSuffix(path, suffix) {
			return true
		}
	}
	return false
}

// admit filters a coalesced event and maps it to a notification.
func (filter extensionFilter) admit(event CoalescedEvent) (ChangeNotification, bool) {
	eventType, ok := notificationType(event.Kind)
	if !ok {
		return ChangeNotification{}, false
	}
	if !filter.allows(event.Path) {
		return ChangeNotification{}, false
	}
	return ChangeNotification{Path: event.Path, EventType: eventType}, true
}

func notificationType(kind Kind) (string, bool) {
	switch kind {
	case KindCreated:
		return EventTypeCreated, true
	case KindModified:
		return EventTypeModified, true
	case KindRemoved:
		return EventTypeDeleted, true
	default:
		return "", false
	}
}
