package main

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"

	"skillgate/internal/config"
)

type versionInfo struct {
	Version  string `json:"version"`
	Commit   string `json:"commit"`
	Date     string `json:"date"`
	Go       string `json:"go"`
	Platform string `json:"platform"`
}

// buildInfo fills commit and date from the embedded VCS stamp when the
// binary was built without -ldflags.
func buildInfo() versionInfo {
	v := versionInfo{
		Version:  config.Version,
		Commit:   config.Commit,
		Date:     config.Date,
		Go:       runtime.Version(),
		Platform: runtime.GOOS + "/" + runtime.GOARCH,
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return v
	}
	if v.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		v.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch {
		case s.Key == "vcs.revision" && v.Commit == "none":
			v.Commit = s.Value
		case s.Key == "vcs.time" && v.Date == "unknown":
			v.Date = s.Value
		}
	}
	return v
}

func newVersionCmd(jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := buildInfo()
			if *jsonOutput {
				return print(true, info, "")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "skillgate %s\ncommit: %s\nbuilt at: %s\n%s %s\n", info.Version, info.Commit, info.Date, info.Go, info.Platform)
			return nil
		},
	}
}
