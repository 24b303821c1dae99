// Package types provides unified type definitions for the memory subsystem.
//
// It holds the data model shared by every layer (episodic and semantic
// records, relevance scores, working-memory context), the structured error
// type with its error-code taxonomy, and the tokenizer contract used for
// budget accounting. The package has no dependencies on the stores or
// services so that any layer can import it.
package types
