package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/the-receipts-must-match/internal/cli"
)

func classifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classify <receipt-id>",
		Short: "Re-classify a stored receipt",
		Long: `Assign a business type to a stored receipt using the current rules,
learned mappings and any context you supply.

Examples:
  receipts classify 3f1c9a7e-0f5d-4d1e-9a55-2b6f0c1d8e42
  receipts classify 3f1c9a7e-0f5d-4d1e-9a55-2b6f0c1d8e42 --context offsite.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: runClassify,
	}
	cmd.Flags().String("sender-domain", "", "domain the receipt was sent from")
	cmd.Flags().String("context", "", "YAML file with calendar events and contacts")
	return cmd
}

func runClassify(cmd *cobra.Command, args []string) error {
	senderDomain, _ := cmd.Flags().GetString("sender-domain")
	contextPath, _ := cmd.Flags().GetString("context")

	cctx, err := loadClassificationContext(senderDomain, contextPath)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	record, err := a.store.GetReceipt(ctx, args[0])
	if err != nil {
		return err
	}
	result := a.engine.Classify(&record.Receipt, cctx)
	if err := a.store.SaveClassification(ctx, record.ID, result); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), cli.RenderClassification(result))
	return nil
}
