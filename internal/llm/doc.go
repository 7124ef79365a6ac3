// Package llm defines the Model capability the agent drives: prompt text in,
// response text out. Provider adapters live in sub-packages and report failures
// as PromptError values whose body may carry a structured provider error.
package llm
