// Package llm defines the downstream model interface used by the send
// command: an optimized, DLP-clean prompt is forwarded to a Provider and
// the reply is streamed back to the terminal.
//
// Implementations live in subpackages (currently llm/ollama) and return
// the types defined here. Callers pick an implementation from the llm
// section of the configuration:
//
//	llm:
//	  provider: ollama
//	  temperature: 0.2
//	  max_tokens: 2048
//	  ollama:
//	    host: http://localhost:11434
//	    model: llama3.2
//
// Provider errors wrap ErrProviderUnavailable, ErrModelNotFound or
// ErrContextCanceled; match them with errors.Is.
package llm
