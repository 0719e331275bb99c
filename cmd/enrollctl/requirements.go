package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"enrolld/pkg/domain"
)

func newRequirementsCmd(a *app) *cobra.Command {
	var modality, plan int64
	cmd := &cobra.Command{
		Use:   "requirements",
		Short: "Print the documents a modality and plan require",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if modality <= 0 || plan <= 0 {
				return fmt.Errorf("--modality and --plan must be positive")
			}
			reqs := a.resolver.Resolve(domain.ModalityID(modality), domain.PlanID(plan))
			if a.asJSON {
				return a.printJSON(reqs)
			}
			for _, slot := range reqs.Basic {
				fmt.Fprintf(a.out, "- %s\n", slot)
			}
			if reqs.Pair != nil {
				fmt.Fprintf(a.out, "- %s\n", reqs.Pair.Label())
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&modality, "modality", 0, "Modality ID")
	cmd.Flags().Int64Var(&plan, "plan", 0, "Plan ID")
	return cmd
}
