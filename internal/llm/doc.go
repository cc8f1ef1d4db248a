// Package llm talks to chat-completion providers and turns subtitle batches
// into translations.
//
// All four providers (OpenAI, Claude, DeepSeek, GLM) share one HTTP client;
// a provider profile selects the endpoint path, auth header shape, request
// body keys, and the response path to assistant content. The Translator
// layers the numbered-list prompt contract on top, with recursive batch
// halving when a response loses count or order.
//
// Transient failures (network errors, 429, 5xx, timeouts) retry with
// jittered exponential backoff. 401 and 403 are terminal credential
// failures and never retried.
package llm
