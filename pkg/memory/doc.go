// Package memory keeps a bounded, durable per-user log of messages and
// retrieves recent entries for prompt grounding.
//
// Invariants:
// - A user's log never holds more than the configured maximum (200 by default); oldest entries are evicted first.
// - Every write serializes the whole document and replaces it atomically; a failed write leaves memory and disk unchanged.
// - Retrieval returns at most topK entries, most recent first, unless an embedding ranker reorders them.
// - Unknown users retrieve an empty slice, never an error.
//
// Usage:
//
//	backend, _ := memory.NewFileBackend("/data/memory.json")
//	store, _ := memory.NewStore(ctx, memory.Config{Backend: backend})
//	defer store.Close()
//	_ = store.Upsert(ctx, "u1", "What major should I pick?")
//	recent, _ := store.Retrieve(ctx, "u1", "majors", 5)
//	_ = recent
package memory
