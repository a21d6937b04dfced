package version

import "fmt"

// values are injected at build time via ldflags
var (
	Version   = "dev"
	Commit    = "none"
	Date      = "unknown"
	BuiltBy   = "unknown"
	SourceURL = "https://github.com/fpvtiming/racehub"
)

var FullVersion = fmt.Sprintf("%s (%s, %s)", Version, Commit, Date)
