// Package capability defines the provider surface the coordinator drives:
// ingestion, statistical analysis, visualization, and report synthesis.
//
// The local provider composes the deterministic dataset, stats, viz, and
// report packages. The model-backed provider wraps it and replaces only the
// report narrative with text from a remote backend (anthropic, openai, or
// gemini), degrading to the local narrative when the backend fails.
package capability
