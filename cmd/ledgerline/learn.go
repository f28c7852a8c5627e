package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ledgerline/categorizer/internal/cli"
)

func learnCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "learn <expense-id> <category>",
		Short: "Teach the engine the right category for an expense",
		Long: `Record a correction for a stored expense. The engine reinforces or
creates patterns for the correct category, and when --predicted names the
category the engine guessed wrong, those patterns are penalized.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			expenseID, categoryName := args[0], args[1]

			eng, store, cleanup, err := initEngine(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			expense, err := store.GetExpenseByID(ctx, expenseID)
			if err != nil {
				return fmt.Errorf("failed to load expense %s: %w", expenseID, err)
			}

			category, err := store.GetCategoryByName(ctx, categoryName)
			if err != nil {
				return fmt.Errorf("unknown category %q: %w", categoryName, err)
			}

			var predictedID *int64
			if predicted, _ := cmd.Flags().GetString("predicted"); predicted != "" {
				predictedCat, lookupErr := store.GetCategoryByName(ctx, predicted)
				if lookupErr != nil {
					return fmt.Errorf("unknown predicted category %q: %w", predicted, lookupErr)
				}
				predictedID = &predictedCat.ID
			}

			result, err := eng.LearnFromCorrection(ctx, expense, category.ID, predictedID)
			if err != nil {
				return fmt.Errorf("failed to record correction: %w", err)
			}

			fmt.Printf("%s %s\n",
				cli.SuccessStyle.Render("✓"),
				fmt.Sprintf("Learned %s for %s: %d patterns created, %d updated",
					cli.BoldStyle.Render(category.Name),
					cli.BoldStyle.Render(expense.MerchantName),
					result.PatternsCreated,
					result.PatternsUpdated))
			return nil
		},
	}

	cmd.Flags().String("predicted", "", "category the engine wrongly predicted")

	return cmd
}
