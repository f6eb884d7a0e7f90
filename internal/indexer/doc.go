// Package indexer loads catalog data and keeps its embeddings current.
//
// # Basic Usage
//
//	idx := indexer.New(store, emb, logger)
//
//	_, err := idx.ImportProducts(ctx, productsFile)
//	_, err = idx.ImportMaterials(ctx, materialsFile)
//	_, err = idx.ImportAssociations(ctx, bomFile)
//
//	stats, err := idx.EmbedCatalog(ctx, &indexer.Config{BatchSize: 32})
//	fmt.Printf("Embedded %d rows in %v\n", stats.Embedded, stats.Duration)
//
// # Imports
//
// Imports read headed CSV files. Header names are case-insensitive and a
// leading byte order mark is ignored. Each import writes its rows in one
// transaction; rows with missing required fields are reported in
// ImportStats.Errors and skipped.
//
// Products need headcode and product_name. Missing category and
// sub_category become "Chưa phân loại" and a missing material_primary
// becomes "Chưa xác định".
//
// Materials need id_sap, material_name and material_group. The
// material_subprice column holds the price history as JSON:
//
//	[{"date": "2024-01-01", "price": 100}, {"date": "2024-06-01", "price": 150}]
//
// The bill of materials needs product_headcode. Rows for unknown products
// are rejected. Unknown material codes are created as placeholder
// materials so the quantities are not lost. Codes ending in ".0", as
// exported by spreadsheets for numeric cells, are trimmed.
//
// # Embedding
//
// EmbedCatalog embeds every row without a vector, or every row when
// Config.Force is set. Rows are embedded in batches with GenerateBatch and
// each batch is written in its own transaction:
//
//	semaphore := make(chan struct{}, workers)
//	for each batch {
//	    g.Go(func() error {
//	        semaphore <- struct{}{}
//	        defer func() { <-semaphore }()
//	        embedBatch(batch)
//	    })
//	}
//
// A failed batch is counted in Statistics.Failed and the run continues.
// Only listing errors and context cancellation abort the run.
//
// The embedded text is Entity.EmbeddingText: the name, group and subgroup,
// plus primary material and project for products.
//
// # Concurrency
//
// IndexLock serializes jobs started from the MCP server so that an import
// and an embedding run never overlap.
package indexer
