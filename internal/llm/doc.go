// Package llm provides vision-capable language model providers that read
// receipt images and PDFs and return structured receipt fields.
// It supports Anthropic and OpenAI, with rate limiting and strict JSON parsing
// of model output.
package llm
