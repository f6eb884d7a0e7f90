// Package types provides shared type definitions for the catalog search engine.
//
// Entities are rows of the two searchable catalog tables (products and
// materials). A search turns them into SearchCandidate values that carry the
// per-signal scores and ranks produced by the ranking pipeline:
//
//	c := types.NewCandidate(entity, 0.82)
//	c.PersonalScore = 0.71
//	c.FeedbackScore = 1.0
//
// All scores are kept in [0, 1]; use Clamp01 before storing a computed value.
//
// # Prices
//
// Material prices are stored as a JSON list of {date, price} entries.
// LatestPrice returns the entry with the greatest date and treats absent or
// malformed data as a price of 0:
//
//	types.LatestPrice(`[{"date":"2024-01-01","price":10},{"date":"2024-06-01","price":12}]`) // 12
//
// # Vectors
//
// Embeddings are []float32. AlignVector truncates or zero-pads a query vector
// to the dimension of the stored column, and CosineSimilarity scores two
// vectors of equal length.
package types
