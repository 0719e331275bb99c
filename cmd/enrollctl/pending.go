package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"enrolld/internal/enrollment/service"
	"enrolld/pkg/domain"
)

func newPendingCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "Manage pending applications",
	}
	cmd.AddCommand(
		newPendingListCmd(a),
		newPendingShowCmd(a),
		newPendingResetAlarmCmd(a),
		newPendingRemoveCmd(a),
		newPendingProcessCmd(a),
	)
	return cmd
}

func newPendingListCmd(a *app) *cobra.Command {
	var overdue bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List applications with their deadline status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			views, err := a.svc.List(a.context(cmd.Context()), service.ListFilter{OverdueOnly: overdue})
			if err != nil {
				return err
			}
			if a.asJSON {
				return a.printJSON(views)
			}
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NATIONAL ID\tNAME\tSTATE\tSELECTION\tDEADLINE\tMISSING")
			for _, v := range views {
				app := v.Application
				fmt.Fprintf(tw, "%s\t%s %s\t%s\t%d/%d/%d\t%s\t%s\n",
					app.NationalID, app.Profile.FirstName, app.Profile.LastName, app.State,
					app.Selectors.ModalityID, app.Selectors.PlanID, app.Selectors.ModuleID,
					v.Deadline.Message, strings.Join(v.Validation.Missing, ", "))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&overdue, "overdue", false, "Only pending applications past their deadline")
	return cmd
}

func newPendingShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <national-id>",
		Short: "Show one application with its validation preview",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := domain.ParseNationalID(args[0])
			if err != nil {
				return err
			}
			view, err := a.svc.Get(a.context(cmd.Context()), id)
			if err != nil {
				return err
			}
			if a.asJSON {
				return a.printJSON(view)
			}
			app := view.Application
			fmt.Fprintf(a.out, "National ID:  %s\n", app.NationalID)
			fmt.Fprintf(a.out, "Name:         %s %s\n", app.Profile.FirstName, app.Profile.LastName)
			fmt.Fprintf(a.out, "State:        %s (version %d)\n", app.State, app.Version)
			fmt.Fprintf(a.out, "Selection:    modality %d, plan %d, module %d\n",
				app.Selectors.ModalityID, app.Selectors.PlanID, app.Selectors.ModuleID)
			fmt.Fprintf(a.out, "Deadline:     %s\n", view.Deadline.Message)
			if len(view.Validation.Missing) > 0 {
				fmt.Fprintf(a.out, "Missing:      %s\n", strings.Join(view.Validation.Missing, ", "))
			}
			if app.AlreadyCommitted {
				fmt.Fprintln(a.out, "Committed:    yes")
			}
			for slot, path := range app.Files {
				fmt.Fprintf(a.out, "  %-24s %s\n", slot, path)
			}
			return nil
		},
	}
}

func newPendingResetAlarmCmd(a *app) *cobra.Command {
	var (
		days   int
		reason string
	)
	cmd := &cobra.Command{
		Use:   "reset-alarm <national-id>",
		Short: "Give an application more days to complete its documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := domain.ParseNationalID(args[0])
			if err != nil {
				return err
			}
			view, err := a.svc.ResetAlarm(a.context(cmd.Context()), id, days, reason)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s: %s\n", id, view.Deadline.Message)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "Days from now until the new deadline")
	cmd.Flags().StringVar(&reason, "reason", "", "Why the deadline was moved")
	return cmd
}

func newPendingRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <national-id>",
		Short: "Delete a pending record (committed data and files are kept)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := domain.ParseNationalID(args[0])
			if err != nil {
				return err
			}
			if err := a.svc.Remove(a.context(cmd.Context()), id); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s removed\n", id)
			return nil
		},
	}
}

func newPendingProcessCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "process <national-id>",
		Short: "Re-run processing with the documents already on file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireDatabase(); err != nil {
				return err
			}
			id, err := domain.ParseNationalID(args[0])
			if err != nil {
				return err
			}
			result, err := a.svc.Process(a.context(cmd.Context()), service.ProcessCommand{NationalID: id})
			if err != nil {
				return err
			}
			if a.asJSON {
				return a.printJSON(result)
			}
			if len(result.MissingDocuments) > 0 {
				fmt.Fprintf(a.out, "%s: %s, missing %s\n", id, result.State, strings.Join(result.MissingDocuments, ", "))
				return nil
			}
			fmt.Fprintf(a.out, "%s: %s, enrollment %d\n", id, result.State, result.CommittedEnrollmentID)
			return nil
		},
	}
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
