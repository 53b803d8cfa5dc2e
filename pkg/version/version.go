// Package version carries the build identity stamped into the telegraph
// binary via -ldflags at release time.
package version

var (
	Version   = "dev"     // semantic version, v1.2.3
	GitCommit = "unknown" // full commit hash
	BuildDate = "unknown" // build timestamp
)

// Info is the payload served by the /version endpoint.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
}

// GetInfo reports the running build.
func GetInfo() Info {
	return Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
	}
}
