package main

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/ledgerline/categorizer/internal/cli"
	"github.com/ledgerline/categorizer/internal/engine"
	"github.com/ledgerline/categorizer/internal/model"
)

func categorizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "categorize",
		Short: "Categorize a single expense",
		Long: `Categorize one expense from its merchant name, description, and amount.
When --expense-id refers to a stored expense and the confidence clears the
auto-apply threshold, the category is written back to the database.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			expense, err := expenseFromFlags(cmd)
			if err != nil {
				return err
			}

			eng, _, cleanup, err := initEngine(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			dryRun, _ := cmd.Flags().GetBool("dry-run")
			var overrides []engine.Override
			if dryRun {
				overrides = append(overrides, engine.WithAutoUpdate(false))
			}

			result := eng.Categorize(ctx, expense, overrides...)
			printResult(expense, result)
			return nil
		},
	}

	cmd.Flags().String("merchant", "", "merchant name")
	cmd.Flags().String("description", "", "free-form expense description")
	cmd.Flags().String("amount", "", "expense amount, e.g. 12.50")
	cmd.Flags().String("expense-id", "", "id of a stored expense to update")
	cmd.Flags().Bool("dry-run", false, "never write the category back")

	return cmd
}

func expenseFromFlags(cmd *cobra.Command) (*model.Expense, error) {
	merchant, _ := cmd.Flags().GetString("merchant")
	description, _ := cmd.Flags().GetString("description")
	amountStr, _ := cmd.Flags().GetString("amount")
	expenseID, _ := cmd.Flags().GetString("expense-id")

	amount := decimal.Zero
	if amountStr != "" {
		parsed, err := decimal.NewFromString(amountStr)
		if err != nil {
			return nil, fmt.Errorf("invalid amount %q: %w", amountStr, err)
		}
		amount = parsed
	}

	return &model.Expense{
		ID:           expenseID,
		MerchantName: merchant,
		Description:  description,
		Amount:       amount,
		Date:         time.Now(),
	}, nil
}

func printResult(expense *model.Expense, result model.CategorizationResult) {
	name := expense.MerchantName
	if name == "" {
		name = expense.Description
	}

	switch result.Method {
	case model.MethodUserPreference:
		fmt.Printf("%s %s %s %s\n",
			cli.SuccessStyle.Render("✓"),
			cli.BoldStyle.Render(name),
			cli.SubtleStyle.Render("→ "+result.Category.Name+" (your preference)"),
			cli.FormatConfidence(result.Confidence))
	case model.MethodFuzzy:
		fmt.Printf("%s %s %s %s\n",
			cli.SuccessStyle.Render("✓"),
			cli.BoldStyle.Render(name),
			cli.SubtleStyle.Render("→ "+result.Category.Name),
			cli.FormatConfidence(result.Confidence))
		for _, alt := range result.Alternatives {
			fmt.Printf("    %s %s %s\n",
				cli.SubtleStyle.Render("also possible:"),
				alt.Category.Name,
				cli.FormatConfidence(alt.Confidence))
		}
	case model.MethodNoMatch:
		fmt.Printf("%s %s %s\n",
			cli.WarningStyle.Render("?"),
			cli.BoldStyle.Render(name),
			cli.SubtleStyle.Render("→ no confident match; use 'ledgerline learn' to teach it"))
	case model.MethodError:
		fmt.Printf("%s %s %s\n",
			cli.ErrorStyle.Render("✗"),
			cli.BoldStyle.Render(name),
			cli.ErrorStyle.Render(result.ErrorMessage))
	}
}
