// Package version holds build metadata. The variables are set with
// -ldflags "-X github.com/keithlinneman/vitesheet/internal/version.Version=..."
// and backfilled from debug.ReadBuildInfo when empty.
package version

import "runtime/debug"

const AppName = "vitesheet"

var (
	Version    = "dev"
	Commit     = "none"
	CommitDate string
	BuildDate  string
	BuildId    string
	GoVersion  string
	VCSDirty   *bool
)

type Info struct {
	AppName    string `json:"app"`
	Version    string `json:"version"`
	Commit     string `json:"commit"`
	CommitDate string `json:"commit_date,omitempty"`
	BuildDate  string `json:"build_date,omitempty"`
	BuildId    string `json:"build_id,omitempty"`
	GoVersion  string `json:"go_version"`
	VCSDirty   *bool  `json:"vcs_dirty,omitempty"`
}

// Release reports whether this is a tagged build rather than a local one.
func (i Info) Release() bool {
	return i.Version != "" && i.Version != "dev" && i.BuildId != ""
}

func Get() Info {
	out := Info{
		AppName:    AppName,
		Version:    Version,
		Commit:     Commit,
		CommitDate: CommitDate,
		BuildDate:  BuildDate,
		BuildId:    BuildId,
		GoVersion:  GoVersion,
		VCSDirty:   VCSDirty,
	}

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return out
	}
	out.GoVersion = bi.GoVersion
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if out.Commit == "none" && s.Value != "" {
				out.Commit = s.Value
			}
		case "vcs.time":
			out.CommitDate = s.Value
			if out.BuildDate == "" {
				out.BuildDate = s.Value
			}
		case "vcs.modified":
			dirty := s.Value == "true"
			out.VCSDirty = &dirty
		}
	}
	return out
}
