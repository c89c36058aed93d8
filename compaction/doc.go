// Package compaction tracks when a thread's unsummarized history has
// grown past its token threshold and, when asked, condenses it into a
// summary message.
//
// The Trigger is a two-state machine per thread: StateNormal until the
// token count since the last summary boundary exceeds the threshold,
// then StateCompactionDue. Evaluating the trigger is a pure read; it
// never summarizes on its own, and nothing in the context-build path
// calls it. Compaction itself is driven by the caller, either manually
// (fetch the pending messages, generate a summary out-of-band, append
// it with IsSummary=true) or through the Compactor, which performs
// those three steps using the Anthropic API.
//
// Appending the summary moves the boundary forward, which returns the
// thread to StateNormal on the next evaluation. Old messages are never
// deleted; the summary is simply a new message after them.
package compaction
