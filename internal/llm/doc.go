// Package llm defines the provider-neutral contract the dispatcher uses to ask
// a language model which tools to call next. Provider adapters live in the
// openai and anthropic subpackages.
package llm
