package desktop

import "strings"

// StartupSuffixes are the launch-file extensions the viewer accepts.
var StartupSuffixes = []string{".md", ".markdown", ".txt"}

// StartupFile picks the launch file from the positional arguments. Only the
// first argument is considered and it must end with one of StartupSuffixes.
func StartupFile(args []string) string {
	if len(args) == 0 {
		return ""
	}
	candidate := args[0]
	for _, suffix := range StartupSuffixes {
		if strings.HasSuffix(candidate, suffix) {
			return candidate
		}
	}
	return ""
}
