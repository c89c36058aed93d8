// Package chatctx manages conversation context for chat agents.
//
// For every inbound turn, a Manager decides which subset of a thread's
// stored history fits the model's token budget, and tracks when the
// accumulated history has grown large enough to require compaction.
// Selection is purely recency- and budget-based: there is no retrieval,
// no embeddings, no relevance ranking.
//
// # Quick Start
//
// Open a store, build a manager, and ask for a context window:
//
//	store, err := chatctx.OpenStore(ctx, chatctx.StoreConfig{
//	    Backend:    chatctx.BackendSQLite,
//	    SQLitePath: "chatctx.db",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	manager, _ := chatctx.New(store, chatctx.Config{})
//
//	system := storage.NewTextMessage(threadID, storage.RoleSystem, "You are a helpful assistant")
//	window, err := manager.OptimalContext(ctx, threadID, system, 200000, "claude-3-5-haiku-20241022")
//
// The window is always [systemPrompt] followed by a contiguous recent
// suffix of the thread's history. The caller sends it to the model,
// then appends the new user and assistant turns back into the store.
//
// # Compaction
//
// The read path never summarizes. Callers poll the trigger and run
// compaction out-of-band:
//
//	trigger, _ := compaction.NewTrigger(store, counter, compaction.TriggerConfig{})
//	state, tokens, err := trigger.Evaluate(ctx, threadID, model)
//	if state == compaction.StateCompactionDue {
//	    // fetch manager.MessagesForSummarization, generate a summary,
//	    // append it with IsSummary=true — or use compaction.Compactor
//	    // to do all three.
//	}
//
// # Storage
//
// Three interchangeable stores implement the storage.Store contract:
// in-memory (storage/memory), embedded SQLite (storage/sqlite), and
// PostgreSQL (storage/postgres). All are verified against the shared
// suite in storage/storagetest.
package chatctx
