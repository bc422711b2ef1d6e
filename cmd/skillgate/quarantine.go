package main

import (
	"fmt"
	"os/user"

	"github.com/spf13/cobra"

	"skillgate/internal/quarantine"
)

func newQuarantineCmd(newSvc serviceFactory, jsonOutput *bool) *cobra.Command {
	qCmd := &cobra.Command{Use: "quarantine", Aliases: []string{"q"}, Short: "Review quarantined skills"}

	var status, severity, skillID string
	var limit int
	listCmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List quarantine entries, most severe first",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := quarantine.Filter{SkillID: skillID, Limit: limit}
			var err error
			if status != "" {
				if f.Status, err = quarantine.ParseReviewStatus(status); err != nil {
					return err
				}
			}
			if severity != "" {
				if f.Severity, err = quarantine.ParseSeverity(severity); err != nil {
					return err
				}
			}
			svc, err := newSvc()
			if err != nil {
				return err
			}
			defer svc.Close()
			q, err := svc.Quarantine(cmd.Context())
			if err != nil {
				return err
			}
			entries, err := q.List(cmd.Context(), f)
			if err != nil {
				return err
			}
			if *jsonOutput {
				return print(true, entries, "")
			}
			if len(entries) == 0 {
				fmt.Println("no quarantine entries")
				return nil
			}
			for _, e := range entries {
				fmt.Printf("%s %-11s %-8s %s\n", e.ID, e.Severity, e.ReviewStatus, e.SkillID)
			}
			return nil
		},
	}
	listCmd.Flags().StringVar(&status, "status", "", "pending|approved|rejected")
	listCmd.Flags().StringVar(&severity, "severity", "", "MALICIOUS|SUSPICIOUS|RISKY|LOW_QUALITY")
	listCmd.Flags().StringVar(&skillID, "skill", "", "only entries for this skill id")
	listCmd.Flags().IntVar(&limit, "limit", 0, "maximum entries (0 for all)")

	showCmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one quarantine entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			defer svc.Close()
			q, err := svc.Quarantine(cmd.Context())
			if err != nil {
				return err
			}
			e, err := q.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if *jsonOutput {
				return print(true, e, "")
			}
			fmt.Printf("id:       %s\nskill:    %s\nsource:   %s\nseverity: %s\nstatus:   %s\nreason:   %s\n",
				e.ID, e.SkillID, e.Source, e.Severity, e.ReviewStatus, e.QuarantineReason)
			if len(e.DetectedPatterns) > 0 {
				fmt.Printf("patterns: %v\n", e.DetectedPatterns)
			}
			if e.ReviewedBy != "" {
				fmt.Printf("reviewed: %s %s\n", e.ReviewedBy, e.ReviewNotes)
			}
			return nil
		},
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Count entries by review status and severity",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			defer svc.Close()
			q, err := svc.Quarantine(cmd.Context())
			if err != nil {
				return err
			}
			st, err := q.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if *jsonOutput {
				return print(true, st, "")
			}
			fmt.Printf("total: %d\n", st.Total)
			for _, s := range []quarantine.ReviewStatus{quarantine.StatusPending, quarantine.StatusApproved, quarantine.StatusRejected} {
				fmt.Printf("  %-8s %d\n", s, st.ByStatus[s])
			}
			return nil
		},
	}

	purgeCmd := &cobra.Command{
		Use:   "purge <id>",
		Short: "Delete a quarantine entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			defer svc.Close()
			if err := svc.PurgeQuarantine(cmd.Context(), args[0]); err != nil {
				return err
			}
			return print(*jsonOutput, map[string]string{"purged": args[0]}, "purged "+args[0])
		},
	}

	qCmd.AddCommand(listCmd, showCmd, statsCmd, purgeCmd,
		newReviewCmd(newSvc, jsonOutput, "approve", quarantine.StatusApproved),
		newReviewCmd(newSvc, jsonOutput, "reject", quarantine.StatusRejected))
	return qCmd
}

func newReviewCmd(newSvc serviceFactory, jsonOutput *bool, verb string, decision quarantine.ReviewStatus) *cobra.Command {
	var reviewer, notes string
	cmd := &cobra.Command{
		Use:   verb + " <id>",
		Short: "Mark a pending entry " + string(decision),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if reviewer == "" {
				reviewer = currentUser()
			}
			svc, err := newSvc()
			if err != nil {
				return err
			}
			defer svc.Close()
			e, err := svc.ReviewQuarantine(cmd.Context(), args[0], quarantine.Review{Status: decision, Reviewer: reviewer, Notes: notes})
			if err != nil {
				return err
			}
			return print(*jsonOutput, e, fmt.Sprintf("%s %s (%s)", decision, e.ID, e.SkillID))
		},
	}
	cmd.Flags().StringVar(&reviewer, "reviewer", "", "reviewer name (default: current user)")
	cmd.Flags().StringVar(&notes, "notes", "", "review notes")
	return cmd
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "unknown"
}
