package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"skillgate/internal/app"
	"skillgate/internal/installer"
	"skillgate/internal/security"
)

type ExitCoder interface {
	ExitCode() int
}

type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }
func (e *exitError) ExitCode() int { return e.code }

// Exit codes. A rejection is a policy outcome, not a crash.
const (
	exitFailed   = 1
	exitRejected = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		if ex, ok := err.(ExitCoder); ok {
			os.Exit(ex.ExitCode())
		}
		os.Exit(exitFailed)
	}
}

type serviceFactory func() (*app.Service, error)

func newRootCmd() *cobra.Command {
	var configPath string
	var logLevel string
	var jsonOutput bool

	newSvc := func() (*app.Service, error) {
		return app.New(app.Options{ConfigPath: configPath, LogLevel: logLevel})
	}

	cmd := &cobra.Command{
		Use:           "skillgate",
		Short:         "Security-gated installer for AI agent skills",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug|info|warn|error (overrides config)")
	cmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output JSON")

	cmd.AddCommand(newInstallCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newUninstallCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newListCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newStatusCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newScanCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newIngestCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newQuarantineCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newRegistryCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newAuditCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newDoctorCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newVersionCmd(&jsonOutput))

	return cmd
}

// installView is the JSON shape of an install result.
type installView struct {
	Status          installer.Status     `json:"status"`
	Name            string               `json:"name,omitempty"`
	ID              string               `json:"id,omitempty"`
	Tier            string               `json:"tier,omitempty"`
	Version         string               `json:"version,omitempty"`
	InstallPath     string               `json:"installPath,omitempty"`
	Source          string               `json:"source,omitempty"`
	Transformed     bool                 `json:"transformed,omitempty"`
	SubFiles        []string             `json:"subFiles,omitempty"`
	ClaudeMdSnippet string               `json:"claudeMdSnippet,omitempty"`
	Merged          bool                 `json:"merged,omitempty"`
	BackupPath      string               `json:"backupPath,omitempty"`
	Companions      []string             `json:"companions,omitempty"`
	Skipped         []string             `json:"skipped,omitempty"`
	Report          *security.ScanReport `json:"scan,omitempty"`
	Error           *errorView           `json:"error,omitempty"`
}

type statusView struct {
	Name    string               `json:"name"`
	State   installer.SkillState `json:"state"`
	Backups []string             `json:"backups,omitempty"`
}

type errorView struct {
	Kind      installer.Kind `json:"kind"`
	Message   string         `json:"message"`
	Threshold int            `json:"threshold,omitempty"`
	RiskScore int            `json:"riskScore,omitempty"`
	Counts    map[string]int `json:"counts,omitempty"`
}

func viewOf(res installer.Result) installView {
	v := installView{
		Status:          res.Status,
		Name:            res.Name,
		ID:              res.ID,
		Tier:            res.Tier,
		Version:         res.Version,
		InstallPath:     res.InstallPath,
		Source:          res.Source,
		Transformed:     res.Transformed,
		SubFiles:        res.SubFiles,
		ClaudeMdSnippet: res.ClaudeMdSnippet,
		Merged:          res.Merged,
		BackupPath:      res.BackupPath,
		Companions:      res.Companions,
		Skipped:         res.Skipped,
		Report:          res.Report,
	}
	if res.Err != nil {
		v.Error = &errorView{
			Kind:      res.Err.Kind,
			Message:   res.Err.Message,
			Threshold: res.Err.Threshold,
			RiskScore: res.Err.RiskScore,
			Counts:    res.Err.Counts,
		}
	}
	return v
}

func newInstallCmd(newSvc serviceFactory, jsonOutput *bool) *cobra.Command {
	var opts app.InstallOptions
	cmd := &cobra.Command{
		Use:     "install <registry-id[@branch] | owner/repo[/path][@branch] | url>",
		Aliases: []string{"i", "add"},
		Short:   "Fetch, scan and install a skill",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			defer svc.Close()
			res, err := svc.Install(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			if *jsonOutput {
				if err := print(true, viewOf(res), ""); err != nil {
					return err
				}
			} else if res.Status == installer.StatusInstalled {
				fmt.Printf("installed %s (%s tier) to %s\n", res.Name, res.Tier, res.InstallPath)
				if res.BackupPath != "" {
					fmt.Printf("previous local copy saved to %s\n", res.BackupPath)
				}
				if len(res.SubFiles) > 0 {
					fmt.Printf("transform added: %s\n", strings.Join(res.SubFiles, ", "))
				}
				if res.ClaudeMdSnippet != "" {
					fmt.Printf("suggested CLAUDE.md addition:\n%s\n", res.ClaudeMdSnippet)
				}
				if len(res.Skipped) > 0 {
					fmt.Printf("skipped companion files: %s\n", strings.Join(res.Skipped, ", "))
				}
			} else if res.Report != nil {
				fmt.Print(security.FormatReport(*res.Report))
			}
			switch res.Status {
			case installer.StatusRejected:
				return &exitError{code: exitRejected, msg: res.Err.Error()}
			case installer.StatusFailed:
				return &exitError{code: exitFailed, msg: res.Err.Error()}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.Force, "force", false, "reinstall over an existing skill")
	cmd.Flags().BoolVar(&opts.SkipScan, "skip-scan", false, "install without the security scan")
	cmd.Flags().BoolVar(&opts.SkipTransform, "skip-transform", false, "do not run the configured transform")
	cmd.Flags().StringVar(&opts.OnConflict, "on-conflict", "", "overwrite|merge|cancel when local edits exist")
	return cmd
}

func newUninstallCmd(newSvc serviceFactory, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:     "uninstall <name>",
		Aliases: []string{"rm", "remove"},
		Short:   "Remove an installed skill",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			defer svc.Close()
			entry, err := svc.Uninstall(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return print(*jsonOutput, entry, "removed "+entry.Name)
		},
	}
}

func newListCmd(newSvc serviceFactory, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List installed skills",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			defer svc.Close()
			entries, err := svc.List()
			if err != nil {
				return err
			}
			if *jsonOutput {
				return print(true, entries, "")
			}
			if len(entries) == 0 {
				fmt.Println("no skills installed")
				return nil
			}
			for _, e := range entries {
				version := e.Version
				if version == "" {
					version = "-"
				}
				fmt.Printf("- %s %s %s\n", e.Name, version, e.Source)
			}
			return nil
		},
	}
}

func newStatusCmd(newSvc serviceFactory, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether installed skills were edited locally",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			defer svc.Close()
			statuses, err := svc.Status(cmd.Context())
			if err != nil {
				return err
			}
			if *jsonOutput {
				out := make([]statusView, 0, len(statuses))
				for _, st := range statuses {
					out = append(out, statusView{Name: st.Entry.Name, State: st.State, Backups: st.Backups})
				}
				return print(true, out, "")
			}
			if len(statuses) == 0 {
				fmt.Println("no skills installed")
				return nil
			}
			for _, st := range statuses {
				if n := len(st.Backups); n > 0 {
					fmt.Printf("%-9s %s (%d backup(s), latest %s)\n", st.State, st.Entry.Name, n, st.Backups[n-1])
					continue
				}
				fmt.Printf("%-9s %s\n", st.State, st.Entry.Name)
			}
			return nil
		},
	}
}

func newScanCmd(newSvc serviceFactory, jsonOutput *bool) *cobra.Command {
	var tier string
	cmd := &cobra.Command{
		Use:   "scan <file-or-dir>",
		Short: "Scan local skill content without installing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if tier != "" {
				if _, ok := security.ParseTier(tier); !ok {
					return fmt.Errorf("SEC_TIER: unknown tier %q", tier)
				}
			}
			svc, err := newSvc()
			if err != nil {
				return err
			}
			defer svc.Close()
			reports, policy, err := svc.ScanPath(cmd.Context(), args[0], tier)
			if err != nil {
				return err
			}
			failed := 0
			for _, r := range reports {
				if !r.Report.Passed {
					failed++
				}
			}
			if *jsonOutput {
				if err := print(true, map[string]any{"policy": policy, "files": reports}, ""); err != nil {
					return err
				}
			} else {
				for _, r := range reports {
					verdict := "pass"
					if !r.Report.Passed {
						verdict = "FAIL"
					}
					fmt.Printf("%s %s score=%d threshold=%d\n", verdict, r.Path, r.Report.RiskScore, policy.RiskThreshold)
					fmt.Print(security.FormatReport(r.Report))
				}
			}
			if failed > 0 {
				return &exitError{code: exitRejected, msg: fmt.Sprintf("%d of %d file(s) failed the %s tier scan", failed, len(reports), policy.Tier)}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tier, "tier", "", "verified|community|experimental|unknown (default from config)")
	return cmd
}

func newIngestCmd(newSvc serviceFactory, jsonOutput *bool) *cobra.Command {
	var tier string
	cmd := &cobra.Command{
		Use:   "ingest <dir>",
		Short: "Screen a directory of skills and quarantine any that fail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			defer svc.Close()
			sum, err := svc.Ingest(cmd.Context(), args[0], tier)
			if err != nil {
				return err
			}
			if *jsonOutput {
				return print(true, sum, "")
			}
			for _, item := range sum.Items {
				if item.QuarantineID != "" {
					fmt.Printf("%-11s %s [%s] %s\n", item.Outcome, item.Name, item.Severity, item.QuarantineID)
					continue
				}
				fmt.Printf("%-11s %s\n", item.Outcome, item.Name)
			}
			fmt.Printf("%s tier: %d accepted, %d quarantined\n", sum.Tier, sum.Accepted, sum.Quarantined)
			return nil
		},
	}
	cmd.Flags().StringVar(&tier, "tier", "", "verified|community|experimental|unknown (default from config)")
	return cmd
}

func newRegistryCmd(newSvc serviceFactory, jsonOutput *bool) *cobra.Command {
	registryCmd := &cobra.Command{Use: "registry", Short: "Inspect the configured skill registry"}
	registryCmd.AddCommand(&cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List registry entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			defer svc.Close()
			entries, err := svc.RegistryList(cmd.Context())
			if err != nil {
				return err
			}
			if *jsonOutput {
				return print(true, entries, "")
			}
			if len(entries) == 0 {
				fmt.Println("registry is empty")
				return nil
			}
			for _, e := range entries {
				tier := e.Tier
				if tier == "" {
					tier = string(security.TierUnknown)
				}
				fmt.Printf("- %s (%s) %s\n", e.ID, tier, e.Repository)
			}
			return nil
		},
	})
	return registryCmd
}

func newAuditCmd(newSvc serviceFactory, jsonOutput *bool) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recent audit events",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			defer svc.Close()
			events, err := svc.AuditTail(limit)
			if err != nil {
				return err
			}
			if *jsonOutput {
				return print(true, events, "")
			}
			for _, ev := range events {
				fmt.Printf("%s %s/%s %s %s\n", ev.Timestamp, ev.Operation, ev.Phase, ev.Status, ev.Code)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of events (0 for all)")
	return cmd
}

func newDoctorCmd(newSvc serviceFactory, jsonOutput *bool) *cobra.Command {
	var fix bool
	cmd := &cobra.Command{
		Use:     "doctor",
		Aliases: []string{"diag", "checkup"},
		Short:   "Run diagnostics",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			defer svc.Close()
			report := svc.DoctorRun(cmd.Context(), fix)
			if *jsonOutput {
				return print(true, report, "")
			}
			if len(report.Findings) == 0 {
				fmt.Println("healthy")
				return nil
			}
			fmt.Println("findings:")
			for _, f := range report.Findings {
				suffix := ""
				if f.Fixed {
					suffix = " (fixed)"
				}
				fmt.Printf("- [%s] %s%s\n", f.Code, f.Message, suffix)
			}
			if !report.Healthy {
				return &exitError{code: exitFailed, msg: "doctor found errors"}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&fix, "fix", false, "remove stale locks and interrupted staging directories")
	return cmd
}

func print(jsonOutput bool, payload any, message string) error {
	if jsonOutput {
		blob, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(blob))
		return nil
	}
	if message != "" {
		fmt.Println(message)
	}
	return nil
}
