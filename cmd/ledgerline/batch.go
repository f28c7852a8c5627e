package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/ledgerline/categorizer/internal/cli"
	"github.com/ledgerline/categorizer/internal/engine"
	"github.com/ledgerline/categorizer/internal/model"
	"github.com/ledgerline/categorizer/internal/storage"
)

// chunkSize bounds how many expenses go through the engine between
// progress updates.
const chunkSize = 100

// batchExpense is the JSON shape accepted by the batch command.
type batchExpense struct {
	ID          string `json:"id"`
	Merchant    string `json:"merchant"`
	Description string `json:"description"`
	Amount      string `json:"amount"`
	Date        string `json:"date"`
}

func batchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch <expenses.json>",
		Short: "Categorize a file of expenses",
		Long: `Categorize every expense in a JSON file. The file holds an array of
objects with "id", "merchant", "description", "amount", and "date"
(RFC 3339) fields. With --save, expenses are stored first so confident
categories can be written back.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			expenses, err := loadExpenses(args[0])
			if err != nil {
				return err
			}
			if len(expenses) == 0 {
				fmt.Println(cli.SubtleStyle.Render("Nothing to categorize."))
				return nil
			}

			eng, store, cleanup, err := initEngine(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			save, _ := cmd.Flags().GetBool("save")
			if save {
				if err := saveExpenses(ctx, store, expenses); err != nil {
					return err
				}
			}

			parallel, _ := cmd.Flags().GetBool("parallel")
			var overrides []engine.Override
			if parallel {
				workers, _ := cmd.Flags().GetInt("workers")
				overrides = append(overrides, engine.WithParallel(workers))
			}
			if !save {
				overrides = append(overrides, engine.WithAutoUpdate(false))
			}

			bar := progressbar.NewOptions(len(expenses),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionShowCount(),
				progressbar.OptionShowElapsedTimeOnFinish(),
				progressbar.OptionSetWidth(40),
				progressbar.OptionSetDescription("Categorizing expenses..."),
			)

			var results []model.CategorizationResult
			for start := 0; start < len(expenses); start += chunkSize {
				end := start + chunkSize
				if end > len(expenses) {
					end = len(expenses)
				}
				results = append(results, eng.BatchCategorize(ctx, expenses[start:end], overrides...)...)
				_ = bar.Add(end - start)
			}
			_ = bar.Finish()
			fmt.Fprintln(os.Stderr)

			printBatchSummary(results)
			return nil
		},
	}

	cmd.Flags().Bool("save", false, "store expenses and write confident categories back")
	cmd.Flags().Bool("parallel", false, "categorize on a worker pool")
	cmd.Flags().Int("workers", engine.DefaultOptions().MaxWorkers, "worker pool size")

	return cmd
}

func loadExpenses(path string) ([]*model.Expense, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- user-supplied input file
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var raw []batchExpense
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	expenses := make([]*model.Expense, 0, len(raw))
	for i, r := range raw {
		amount := decimal.Zero
		if r.Amount != "" {
			amount, err = decimal.NewFromString(r.Amount)
			if err != nil {
				return nil, fmt.Errorf("expense %d: invalid amount %q: %w", i, r.Amount, err)
			}
		}

		date := time.Now()
		if r.Date != "" {
			date, err = time.Parse(time.RFC3339, r.Date)
			if err != nil {
				return nil, fmt.Errorf("expense %d: invalid date %q: %w", i, r.Date, err)
			}
		}

		expenses = append(expenses, &model.Expense{
			ID:           r.ID,
			MerchantName: r.Merchant,
			Description:  r.Description,
			Amount:       amount,
			Date:         date,
		})
	}
	return expenses, nil
}

func saveExpenses(ctx context.Context, store *storage.SQLiteStorage, expenses []*model.Expense) error {
	for i, expense := range expenses {
		if expense.ID == "" {
			return fmt.Errorf("expense %d has no id; ids are required with --save", i)
		}
		if err := store.SaveExpense(ctx, expense); err != nil {
			return fmt.Errorf("failed to save expense %s: %w", expense.ID, err)
		}
	}
	return nil
}

func printBatchSummary(results []model.CategorizationResult) {
	var categorized, applied, noMatch, failed int
	for _, r := range results {
		switch r.Method {
		case model.MethodUserPreference, model.MethodFuzzy:
			categorized++
			if auto, ok := r.Metadata["auto_applied"].(bool); ok && auto {
				applied++
			}
		case model.MethodNoMatch:
			noMatch++
		case model.MethodError:
			failed++
		}
	}

	fmt.Println(cli.TitleStyle.Render("Batch summary"))
	fmt.Printf("  %s %d categorized (%d written back)\n", cli.SuccessStyle.Render("✓"), categorized, applied)
	fmt.Printf("  %s %d without a confident match\n", cli.WarningStyle.Render("?"), noMatch)
	if failed > 0 {
		fmt.Printf("  %s %d failed\n", cli.ErrorStyle.Render("✗"), failed)
	}
}
