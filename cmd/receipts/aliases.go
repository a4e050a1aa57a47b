package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/Veraticus/the-receipts-must-match/internal/cli"
)

func aliasesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aliases",
		Short: "Manage merchant aliases",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List known aliases",
		Args:  cobra.NoArgs,
		RunE:  runAliasesList,
	}
	list.Flags().String("merchant", "", "only show aliases of this canonical merchant")

	learn := &cobra.Command{
		Use:   "learn <alias> <canonical>",
		Short: "Add a new alias",
		Long: `Map an unseen alias to a canonical merchant. Aliases that already map
somewhere are left alone; use "aliases correct" to remap them.

Examples:
  receipts aliases learn "BLUEBTL SF" "Blue Bottle Coffee"`,
		Args: cobra.ExactArgs(2),
		RunE: runAliasesLearn,
	}

	correct := &cobra.Command{
		Use:   "correct <raw> <canonical>",
		Short: "Remap an alias",
		Long: `Record a correction: raw now maps to canonical even if it mapped
elsewhere before.

Examples:
  receipts aliases correct "SQ *CAFE" "Cafe Reveille"`,
		Args: cobra.ExactArgs(2),
		RunE: runAliasesCorrect,
	}

	cmd.AddCommand(list, learn, correct)
	return cmd
}

func runAliasesList(cmd *cobra.Command, _ []string) error {
	filter, _ := cmd.Flags().GetString("merchant")

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	rows := aliasRows(a.normalizer.Table().Entries(), filter)
	out := cmd.OutOrStdout()
	if len(rows) == 0 {
		fmt.Fprintln(out, cli.FormatInfo("No aliases found"))
		return nil
	}
	fmt.Fprintln(out, cli.RenderTable([]string{"Alias", "Merchant"}, rows))
	return nil
}

// aliasRows sorts entries by merchant then alias.
func aliasRows(entries map[string]string, merchant string) [][]string {
	rows := make([][]string, 0, len(entries))
	for alias, canonical := range entries {
		if merchant != "" && canonical != merchant {
			continue
		}
		rows = append(rows, []string{alias, canonical})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i][1] != rows[j][1] {
			return rows[i][1] < rows[j][1]
		}
		return rows[i][0] < rows[j][0]
	})
	return rows
}

func runAliasesLearn(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.normalizer.Learn(ctx, args[0], args[1]); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Learned %q → %s", args[0], args[1])))
	return nil
}

func runAliasesCorrect(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.normalizer.RecordCorrection(ctx, args[0], args[1]); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("%q now maps to %s", args[0], args[1])))
	return nil
}
