package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ledgerline/categorizer/internal/model"
)

func patternsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "patterns",
		Aliases: []string{"pattern"},
		Short:   "Manage categorization patterns",
		Long: `Inspect and manage the learned patterns that drive categorization:
merchant signatures, description keywords, and regex rules.`,
	}

	cmd.AddCommand(patternsListCmd())
	cmd.AddCommand(patternsAddCmd())
	cmd.AddCommand(patternsDeactivateCmd())

	return cmd
}

func patternsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List learned patterns",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			categoryName, _ := cmd.Flags().GetString("category")

			var patterns []model.Pattern
			if categoryName != "" {
				category, lookupErr := store.GetCategoryByName(ctx, categoryName)
				if lookupErr != nil {
					return fmt.Errorf("unknown category %q: %w", categoryName, lookupErr)
				}
				patterns, err = store.GetPatternsByCategory(ctx, category.ID)
			} else {
				patterns, err = store.GetActivePatternsByTypes(ctx, []model.PatternType{
					model.PatternTypeMerchant,
					model.PatternTypeKeyword,
					model.PatternTypeDescription,
					model.PatternTypeRegex,
				})
			}
			if err != nil {
				return fmt.Errorf("failed to load patterns: %w", err)
			}

			if len(patterns) == 0 {
				fmt.Println("No patterns found.")
				return nil
			}

			categories := make(map[int64]string)
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ID\tTYPE\tVALUE\tCATEGORY\tWEIGHT\tUSES\tSUCCESS\tACTIVE")
			for i := range patterns {
				p := &patterns[i]
				name, ok := categories[p.CategoryID]
				if !ok {
					category, catErr := store.GetCategoryByID(ctx, p.CategoryID)
					if catErr != nil {
						name = strconv.FormatInt(p.CategoryID, 10)
					} else {
						name = category.Name
					}
					categories[p.CategoryID] = name
				}
				_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%.1f\t%d\t%.0f%%\t%t\n",
					p.ID, p.Type, p.Value, name, p.ConfidenceWeight,
					p.UsageCount, p.SuccessRate()*100, p.Active)
			}
			return w.Flush()
		},
	}

	cmd.Flags().String("category", "", "only show patterns for this category")

	return cmd
}

func patternsAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <type> <value> <category>",
		Short: "Add a pattern by hand",
		Long: `Add a pattern without waiting for the engine to learn it. Type is one of
merchant, keyword, description, or regex. The value is matched after the
same normalization applied to expense text.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			patternType, value, categoryName := model.PatternType(args[0]), args[1], args[2]

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			category, err := store.GetCategoryByName(ctx, categoryName)
			if err != nil {
				return fmt.Errorf("unknown category %q: %w", categoryName, err)
			}

			weight, _ := cmd.Flags().GetFloat64("weight")
			pattern := &model.Pattern{
				CategoryID:       category.ID,
				Type:             patternType,
				Value:            value,
				ConfidenceWeight: weight,
				Active:           true,
				UserCreated:      true,
			}
			if err := pattern.Validate(); err != nil {
				return err
			}
			if err := store.CreatePattern(ctx, pattern); err != nil {
				return fmt.Errorf("failed to create pattern: %w", err)
			}

			fmt.Printf("Created pattern %d: %s %q → %s\n", pattern.ID, pattern.Type, pattern.Value, category.Name)
			return nil
		},
	}

	cmd.Flags().Float64("weight", 1.0, "confidence weight (0.1 to 5.0)")

	return cmd
}

func patternsDeactivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate <id>",
		Short: "Stop a pattern from matching",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid pattern id %q: %w", args[0], err)
			}

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := store.DeactivatePattern(ctx, id); err != nil {
				return fmt.Errorf("failed to deactivate pattern %d: %w", id, err)
			}

			fmt.Printf("Deactivated pattern %d\n", id)
			return nil
		},
	}
}
