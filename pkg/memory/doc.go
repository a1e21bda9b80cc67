// Package memory implements durable long-term memory with hybrid retrieval.
//
// Memories live in two stores: a metadata record store (source of truth for
// the memory itself, its importance and associations) and a vector/text store
// that duplicates the content to answer approximate-nearest-neighbor and
// full-text queries over the same rows. The two stores are not kept
// transactionally consistent; a periodic reconciliation sweep repairs drift.
//
// Full-text search needs a SQLite build with FTS5 compiled in. With the
// mattn/go-sqlite3 driver that means building (and testing) with
// -tags sqlite_fts5; without it, opening a store fails with
// "no such module: fts5".
//
// Usage:
//
//	model, _ := memory.NewModel(memory.ModelConfig{Provider: provider})
//	defer model.Close()
//	engine, _ := memory.NewEngine(memory.EngineConfig{Model: model, Index: index, Records: records})
//	id, _ := memory.Save(ctx, engine, memory.CreateMemoryInput{Content: "the deploy key rotates monthly"})
//	found, _ := memory.Recall(ctx, engine, "deploy key rotation", 5)
package memory
