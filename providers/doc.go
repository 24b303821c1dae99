// Package providers defines the external collaborator contracts of the
// memory subsystem (text embedding and text completion), together with an
// OpenAI-compatible implementation and a bounded-backoff retryer.
//
// Every call takes a context and honors its deadline; implementations of
// these interfaces are the only components allowed to talk to vendor APIs.
package providers
