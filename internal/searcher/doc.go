// Package searcher implements the multi-tier catalog retrieval chain.
//
// Three tiers are tried in order and the first one that returns at least
// one candidate wins. Later tiers are complete fallbacks, never blended in:
//   - Hybrid: head-term gate on the entity name, then cosine similarity
//     against the remaining descriptive words
//   - Vector: nearest neighbours of the full (optionally expanded) query
//   - Keyword: substring matching on name, group and material fields, or a
//     sample when no criteria are available
//
// # Basic Usage
//
//	exec := searcher.New(store, cfg.Search, log, metrics)
//
//	q := searcher.NewQuery(types.KindProduct, "bàn làm việc gỗ sồi", params, emb)
//	q.Expanded = expander.Expand(ctx, q.Text)
//
//	res := exec.Search(ctx, q)
//	fmt.Println(res.Method, len(res.Candidates))
//
// # Head Terms
//
// SplitQuery picks the required head term from a closed vocabulary. Type
// phrases such as "bàn làm việc" or "ghế sofa" are consumed whole and map
// to their head word, leaving no secondary words:
//
//	split := searcher.SplitQuery("bàn làm việc", searcher.DefaultVocab(types.KindProduct))
//	// split.Head == "bàn", split.Secondary == nil
//
// When no vocabulary word is present the first token is the head.
//
// # Thresholds
//
// A hybrid candidate is kept when its similarity is at least
// search.min_similarity and either its secondary match ratio reaches
// search.min_match_ratio or its similarity reaches
// search.strong_similarity. Without secondary words the ratio requirement
// is disabled.
//
// # Failure Handling
//
// Search never returns an error. A tier whose embedding call fails, whose
// store query fails, or which exceeds search.hybrid_timeout is logged,
// counted in catalog_search_tier_total with outcome "error", and skipped.
// Embeddings are memoized on the Query so an unavailable provider is asked
// once per text.
//
// # Custom Tiers
//
// Any type implementing Strategy can be placed in the chain:
//
//	exec := searcher.NewExecutor([]searcher.Strategy{
//	    searcher.NewVectorTier(store, 10),
//	    myTier,
//	}, log, nil)
package searcher
