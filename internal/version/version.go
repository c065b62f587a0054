// Package version описывает сборку. Значения проставляются через
//
//	-ldflags "-X github.com/vladislavdragonenkov/cardmarket/internal/version.version=v1.4.0 ..."
//
// а если не проставлены, берутся из VCS-меток, которые go build кладёт в бинарь.
package version

import (
	"runtime/debug"
	"sync"

	log "github.com/sirupsen/logrus"
)

var (
	version = "dev"
	commit  = ""
	date    = ""
)

// Build: сведения о собранном бинаре.
type Build struct {
	Version string
	Commit  string
	Date    string
}

var (
	once    sync.Once
	current Build
)

// Current читает сведения один раз за процесс.
func Current() Build {
	once.Do(func() {
		current = resolve(version, commit, date, debug.ReadBuildInfo)
	})
	return current
}

// Version: номер версии для health-отчёта и Kafka client id.
func Version() string { return Current().Version }

// Fields: поля для стартового лога.
func Fields() log.Fields {
	b := Current()
	return log.Fields{"version": b.Version, "commit": b.Commit, "build_date": b.Date}
}

func resolve(v, c, d string, read func() (*debug.BuildInfo, bool)) Build {
	b := Build{Version: v, Commit: c, Date: d}
	if info, ok := read(); ok {
		for _, s := range info.Settings {
			switch {
			case s.Key == "vcs.revision" && b.Commit == "":
				b.Commit = s.Value
			case s.Key == "vcs.time" && b.Date == "":
				b.Date = s.Value
			}
		}
	}
	if b.Commit == "" {
		b.Commit = "unknown"
	}
	if b.Date == "" {
		b.Date = "unknown"
	}
	return b
}
