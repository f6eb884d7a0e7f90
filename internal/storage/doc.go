// Package storage persists the product and material catalog, the
// product/material associations, and the interaction and feedback history
// used for personalization.
//
// Two backends implement Storage:
//
//   - SQLiteStorage: embedded, vectors stored as little-endian float32
//     blobs, similarity computed in Go.
//   - PostgresStorage: lib/pq against a pgvector database, similarity
//     computed by the <=> cosine distance operator.
//
// Open picks the backend from configuration:
//
//	store, err := storage.Open(ctx, cfg.Database, storage.WithLogger(log))
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
// # Schema
//
// Tables:
//   - products: headcode, name, category, sub_category, material_primary
//   - materials: id_sap, name, group, subgroup, price history (JSON)
//   - product_materials: product/material association with quantity
//   - user_preferences: view/reject events with the entity vector
//   - user_feedback: query embedding with selected and rejected codes
//
// Migrations are versioned with semver and recorded in schema_version.
//
// # Transactions
//
// Catalog imports run inside a Tx:
//
//	tx, err := store.BeginTx(ctx)
//	if err != nil {
//	    return err
//	}
//	defer func() { _ = tx.Rollback() }()
//	if err := tx.UpsertEntity(ctx, &product); err != nil {
//	    return err
//	}
//	return tx.Commit()
//
// # Build Tags
//
// The default build uses modernc.org/sqlite. Building with the sqlite_vec
// tag switches to github.com/mattn/go-sqlite3 and requires CGO.
package storage
