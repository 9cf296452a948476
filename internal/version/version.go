package version

import (
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"
)

// Build metadata, overridden with -ldflags "-X mdview/internal/version.Version=...".
var (
	Version   = "dev"
	Major     = "0"
	Minor     = "0"
	Patch     = "0"
	Built     = ""
	GitCommit = ""
)

type Info struct {
	Version   string `json:"version"`
	Major     int    `json:"major"`
	Minor     int    `json:"minor"`
	Patch     int    `json:"patch"`
	Built     string `json:"built,omitempty"`
	GitCommit string `json:"git_commit,omitempty"`
	GoVersion string `json:"go_version,omitempty"`
}

// Current returns the build metadata. When no commit was injected it falls
// back to the VCS revision recorded by the Go toolchain.
func Current() Info {
	info := Info{
		Version:   Version,
		Major:     parseInt(Major),
		Minor:     parseInt(Minor),
		Patch:     parseInt(Patch),
		Built:     Built,
		GitCommit: GitCommit,
	}
	if build, ok := debug.ReadBuildInfo(); ok {
		info.GoVersion = build.GoVersion
		if info.GitCommit == "" {
			for _, setting := range build.Settings {
				if setting.Key == "vcs.revision" {
					info.GitCommit = shortCommit(setting.Value)
				}
			}
		}
	}
	return info
}

// Label is the human readable version: the explicit version string, or
// major.minor.patch when it is empty.
func (info Info) Label() string {
	if strings.TrimSpace(info.Version) != "" {
		return info.Version
	}
	return fmt.Sprintf("%d.%d.%d", info.Major, info.Minor, info.Patch)
}

func (info Info) String() string {
	label := "mdview " + info.Label()
	var details []string
	if info.Built != "" {
		details = append(details, "built "+info.Built)
	}
	if info.GitCommit != "" {
		details = append(details, "commit "+info.GitCommit)
	}
	if len(details) > 0 {
		label = fmt.Sprintf("%s (%s)", label, strings.Join(details, ", "))
	}
	return label
}

func shortCommit(commit string) string {
	if len(commit) > 12 {
		return commit[:12]
	}
	return commit
}

func parseInt(value string) int {
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return parsed
}
