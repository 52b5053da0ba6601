// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"strconv"
	"time"
)

// =============================================================================
// GENERATION OPTIONS
// =============================================================================

// Options are the sampling parameters sent under "options". Nil fields are
// left out of the request so the server's own defaults apply.
type Options struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
	// NumPredict caps the number of generated tokens (max_tokens).
	NumPredict *int     `json:"num_predict,omitempty"`
	Stop       []string `json:"stop,omitempty"`
	Seed       *int     `json:"seed,omitempty"`
}

// IsZero reports whether no option is set.
func (o *Options) IsZero() bool {
	return o == nil || (o.Temperature == nil && o.TopP == nil && o.TopK == nil &&
		o.NumPredict == nil && len(o.Stop) == 0 && o.Seed == nil)
}

// Float returns a pointer to v, for filling Options.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v, for filling Options.
func Int(v int) *int { return &v }

// =============================================================================
// GENERATE
// =============================================================================

// GenerateRequest is the body of POST /api/generate.
type GenerateRequest struct {
	Model   string   `json:"model"`
	Prompt  string   `json:"prompt"`
	System  string   `json:"system,omitempty"`
	Options *Options `json:"options,omitempty"`
	Stream  bool     `json:"stream"`
}

// GenerateResponse is a full (non-streaming) response or one stream line.
type GenerateResponse struct {
	Model              string    `json:"model"`
	CreatedAt          time.Time `json:"created_at"`
	Response           string    `json:"response"`
	Done               bool      `json:"done"`
	DoneReason         string    `json:"done_reason,omitempty"`
	TotalDuration      int64     `json:"total_duration,omitempty"`
	LoadDuration       int64     `json:"load_duration,omitempty"`
	PromptEvalCount    int       `json:"prompt_eval_count,omitempty"`
	PromptEvalDuration int64     `json:"prompt_eval_duration,omitempty"`
	EvalCount          int       `json:"eval_count,omitempty"`
	EvalDuration       int64     `json:"eval_duration,omitempty"`
}

// TokensPerSecond computes the generation speed reported by the server.
func (r *GenerateResponse) TokensPerSecond() float64 {
	if r.EvalDuration <= 0 {
		return 0
	}
	return float64(r.EvalCount) / time.Duration(r.EvalDuration).Seconds()
}

// =============================================================================
// MODELS
// =============================================================================

// ModelInfo contains information about a model.
type ModelInfo struct {
	Name       string       `json:"name"`
	ModifiedAt time.Time    `json:"modified_at"`
	Size       int64        `json:"size"`
	Digest     string       `json:"digest"`
	Details    ModelDetails `json:"details,omitempty"`
}

// ModelDetails contains detailed information about a model.
type ModelDetails struct {
	Format            string   `json:"format"`
	Family            string   `json:"family"`
	Families          []string `json:"families"`
	ParameterSize     string   `json:"parameter_size"`
	QuantizationLevel string   `json:"quantization_level"`
}

// ListModelsResponse is the response from /api/tags endpoint.
type ListModelsResponse struct {
	Models []ModelInfo `json:"models"`
}

// FormatSize formats the model size in human-readable form.
func (m *ModelInfo) FormatSize() string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case m.Size >= GB:
		return strconv.FormatFloat(float64(m.Size)/GB, 'f', 1, 64) + " GB"
	case m.Size >= MB:
		return strconv.FormatFloat(float64(m.Size)/MB, 'f', 1, 64) + " MB"
	case m.Size >= KB:
		return strconv.FormatFloat(float64(m.Size)/KB, 'f', 1, 64) + " KB"
	default:
		return strconv.FormatInt(m.Size, 10) + " B"
	}
}

// =============================================================================
// STREAMING
// =============================================================================

// StreamChunk is one piece of generated text from a stream.
type StreamChunk struct {
	Text  string
	Model string
	// Done is set on the chunk carried by the server's final line.
	Done bool
}

// OllamaError is the error body returned by the server.
type OllamaError struct {
	Error string `json:"error"`
}
