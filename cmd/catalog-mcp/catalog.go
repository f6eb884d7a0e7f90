package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/dshills/catalog-mcp/internal/indexer"
	"github.com/dshills/catalog-mcp/internal/storage"
	"github.com/dshills/catalog-mcp/pkg/types"
)

var importCmd = &cobra.Command{
	Use:   "import <products|materials|product_materials> <file.csv>",
	Short: "Load catalog rows from a CSV export",
	Long: `Import upserts rows from a headed CSV file.

  products           headcode, product_name, category, sub_category,
                     material_primary, unit, project, project_id, image_url
  materials          id_sap, material_name, material_group, material_subgroup,
                     material_subprice (JSON price history), unit, image_url
  product_materials  product_headcode, material_id_sap, quantity, unit

Import products and materials before the bill of materials.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		var run func(context.Context, io.Reader) (*indexer.ImportStats, error)
		switch args[0] {
		case "products":
			run = a.indexer.ImportProducts
		case "materials":
			run = a.indexer.ImportMaterials
		case "product_materials", "bom":
			run = a.indexer.ImportAssociations
		default:
			return fmt.Errorf("unknown table %q: want products, materials or product_materials", args[0])
		}

		f, err := os.Open(args[1])
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()

		stats, err := run(cmd.Context(), f)
		if err != nil {
			return err
		}
		if outputJSON {
			return printJSON(stats)
		}
		fmt.Printf("Rows: %d, imported: %d, skipped: %d\n", stats.Total, stats.Imported, stats.Skipped)
		if stats.CreatedMaterials > 0 {
			fmt.Printf("Placeholder materials created: %d\n", stats.CreatedMaterials)
		}
		for _, msg := range stats.Errors {
			fmt.Printf("  %s\n", msg)
		}
		return nil
	},
}

var (
	embedForce   bool
	embedLimit   int
	embedType    string
	embedWorkers int
	embedBatch   int
)

var embedCmd = &cobra.Command{
	Use:   "embed",
	Short: "Generate embeddings for catalog rows",
	RunE: func(cmd *cobra.Command, args []string) error {
		config := &indexer.Config{
			Workers:   embedWorkers,
			BatchSize: embedBatch,
			Limit:     embedLimit,
			Force:     embedForce,
		}
		if embedType != "" {
			kind, err := types.ParseEntityKind(embedType)
			if err != nil {
				return err
			}
			config.Kinds = []types.EntityKind{kind}
		}

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		stats, err := a.indexer.EmbedCatalog(cmd.Context(), config)
		if err != nil {
			return err
		}
		if outputJSON {
			return printJSON(stats)
		}
		fmt.Printf("Scanned %d rows, embedded %d, failed %d in %v\n",
			stats.Scanned, stats.Embedded, stats.Failed, stats.Duration)
		for _, msg := range stats.ErrorMessages {
			fmt.Printf("  %s\n", msg)
		}
		return nil
	},
}

var migrateRollback bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations, or roll back the last one",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		// Opening the store applies pending migrations.
		store, err := storage.Open(ctx, cfg.Database, cfg.Embedding.Dimension, storage.WithLogger(logger))
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		if migrateRollback {
			m, ok := store.(storage.Migrator)
			if !ok {
				return fmt.Errorf("driver %q does not support rollback", cfg.Database.Driver)
			}
			applied, err := m.RollbackLast(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Rolled back migration %s\n", applied)
			return nil
		}

		status, err := store.GetStatus(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Schema version %s (%s)\n", status.SchemaVersion, status.Driver)
		return nil
	},
}

func init() {
	embedCmd.Flags().BoolVar(&embedForce, "force", false, "re-embed rows that already have a vector")
	embedCmd.Flags().IntVar(&embedLimit, "limit", 0, "maximum rows per table, 0 for all")
	embedCmd.Flags().StringVarP(&embedType, "type", "t", "", "restrict to product or material")
	embedCmd.Flags().IntVar(&embedWorkers, "workers", 0, "concurrent batches (default: number of CPUs)")
	embedCmd.Flags().IntVar(&embedBatch, "batch", 32, "rows per embedding request")

	migrateCmd.Flags().BoolVar(&migrateRollback, "rollback", false, "roll back the most recent migration")
}
