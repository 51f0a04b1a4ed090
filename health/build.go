package health

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

type BuildInfo struct {
	Version   string    `json:"version"`
	GitCommit string    `json:"git_commit"`
	BuildTime time.Time `json:"build_time"`
	GoVersion string    `json:"go_version"`
	Platform  string    `json:"platform"`
}

func (b BuildInfo) String() string {
	commit := b.GitCommit
	if len(commit) > 7 {
		commit = commit[:7]
	}

	if b.BuildTime.IsZero() {
		return fmt.Sprintf("%s-%s %s", b.Version, commit, b.Platform)
	}
	return fmt.Sprintf("%s-%s (%s) %s", b.Version, commit, b.BuildTime.Format("2006-01-02"), b.Platform)
}

func getBuildInfo() string {
	return readBuildInfo().String()
}

// readBuildInfo prefers BUILD_* environment overrides and falls back to the
// VCS stamps the Go toolchain embeds in the binary.
func readBuildInfo() BuildInfo {
	info := BuildInfo{
		Version:   "dev",
		GitCommit: "unknown",
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}

	if bi, ok := debug.ReadBuildInfo(); ok {
		if bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			info.Version = bi.Main.Version
		}
		for _, setting := range bi.Settings {
			switch setting.Key {
			case "vcs.revision":
				info.GitCommit = setting.Value
			case "vcs.time":
				if t, err := time.Parse(time.RFC3339, setting.Value); err == nil {
					info.BuildTime = t
				}
			}
		}
	}

	if v := strings.TrimSpace(os.Getenv("BUILD_VERSION")); v != "" {
		info.Version = v
	}
	if v := strings.TrimSpace(os.Getenv("BUILD_COMMIT")); v != "" {
		info.GitCommit = v
	}
	if v := strings.TrimSpace(os.Getenv("BUILD_TIME")); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			info.BuildTime = t
		}
	}

	return info
}
