package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ledgerline/categorizer/internal/cli"
	"github.com/ledgerline/categorizer/internal/common"
	"github.com/ledgerline/categorizer/internal/model"
	"github.com/ledgerline/categorizer/internal/storage"
)

// seedEntry pairs a category with the merchant signatures that usually
// belong to it.
type seedEntry struct {
	category    string
	description string
	merchants   []string
}

// starterSet covers the merchants most personal ledgers see first. Values
// are already normalized.
var starterSet = []seedEntry{
	{
		category:    "Coffee",
		description: "Cafes and coffee shops",
		merchants:   []string{"starbucks", "dunkin", "peets coffee", "blue bottle"},
	},
	{
		category:    "Groceries",
		description: "Supermarkets and grocery delivery",
		merchants:   []string{"whole foods", "trader joes", "safeway", "kroger", "instacart"},
	},
	{
		category:    "Dining",
		description: "Restaurants and food delivery",
		merchants:   []string{"uber eats", "doordash", "grubhub", "chipotle", "mcdonalds"},
	},
	{
		category:    "Transport",
		description: "Rideshare, transit, and fuel",
		merchants:   []string{"uber", "lyft", "shell", "chevron", "clipper"},
	},
	{
		category:    "Subscriptions",
		description: "Streaming and recurring services",
		merchants:   []string{"netflix", "spotify", "hulu", "apple com bill"},
	},
	{
		category:    "Shopping",
		description: "Online and retail shopping",
		merchants:   []string{"amazon", "target", "costco", "walmart"},
	},
	{
		category:    "Utilities",
		description: "Power, water, internet, and phone",
		merchants:   []string{"comcast", "verizon", "pg e"},
	},
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Install a starter set of categories and patterns",
		Long: `Create common categories with merchant patterns for well-known vendors
so a fresh database categorizes everyday spending out of the box.
Existing categories and patterns are left untouched.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			var categories, patterns int
			for _, entry := range starterSet {
				createdCategory, created, seedErr := ensureCategory(ctx, store, entry)
				if seedErr != nil {
					return seedErr
				}
				if created {
					categories++
				}

				for _, merchant := range entry.merchants {
					pattern := &model.Pattern{
						CategoryID:       createdCategory.ID,
						Type:             model.PatternTypeMerchant,
						Value:            merchant,
						ConfidenceWeight: 1.0,
						Active:           true,
					}
					if createErr := store.CreatePattern(ctx, pattern); createErr != nil {
						if errors.Is(createErr, common.ErrDuplicateEntry) {
							continue
						}
						return fmt.Errorf("failed to seed pattern %q: %w", merchant, createErr)
					}
					patterns++
				}
			}

			fmt.Printf("%s Seeded %d categories and %d patterns\n",
				cli.SuccessStyle.Render("✓"), categories, patterns)
			return nil
		},
	}
}

func ensureCategory(ctx context.Context, store *storage.SQLiteStorage, entry seedEntry) (*model.Category, bool, error) {
	category, err := store.GetCategoryByName(ctx, entry.category)
	if err == nil {
		return category, false, nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return nil, false, fmt.Errorf("failed to look up category %q: %w", entry.category, err)
	}

	category, err = store.CreateCategory(ctx, entry.category, entry.description)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create category %q: %w", entry.category, err)
	}
	return category, true, nil
}
