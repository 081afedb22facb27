/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/friendsincode/andhrimnir_kitchen/internal/db"
	"github.com/friendsincode/andhrimnir_kitchen/internal/profile"
)

var seedProfilePath string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load a kitchen profile file into the database",
	Long: `Seed the database with the kitchen and recipes from a profile file.

Seeding is idempotent by name: an existing kitchen or recipe with the
same name is left untouched, so re-running against the same file is safe.

Examples:
  andhrimnir seed --kitchen kitchen.yaml`,
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
	seedCmd.Flags().StringVar(&seedProfilePath, "kitchen", "", "Path to a kitchen profile YAML file (required)")
	seedCmd.MarkFlagRequired("kitchen")
}

func runSeed(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	doc, err := profile.Load(seedProfilePath)
	if err != nil {
		return err
	}

	database, err := initDatabase()
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	result, err := profile.Seed(context.Background(), database, doc, logger)
	if err != nil {
		return fmt.Errorf("seed profile: %w", err)
	}

	kitchenState := "already present"
	if result.KitchenCreated {
		kitchenState = "created"
	}

	fmt.Printf("Seed complete:\n")
	fmt.Printf("  Kitchen:         %s (%s)\n", result.KitchenID, kitchenState)
	fmt.Printf("  Recipes created: %d\n", result.RecipesCreated)
	fmt.Printf("  Recipes skipped: %d\n", result.RecipesSkipped)

	return nil
}
