package core

import "testing"

func baseRequest() *CompletionRequest {
	return &CompletionRequest{
		Model: "claude-sonnet-4",
		Messages: []Message{
			{Role: "system", Content: "You are a helpful assistant."},
			{Role: "user", Content: "Summarize this repository."},
		},
		MaxTokens:   512,
		Temperature: 0.7,
		TopP:        0.9,
	}
}

func TestFingerprintDeterministic(t *testing.T) {
	a := Fingerprint(baseRequest())
	b := Fingerprint(baseRequest())
	if a != b {
		t.Errorf("identical requests produced different fingerprints: %s vs %s", a, b)
	}
	if a == "" {
		t.Error("fingerprint is empty")
	}
}

func TestFingerprintSensitivity(t *testing.T) {
	base := Fingerprint(baseRequest())

	tests := []struct {
		name   string
		mutate func(*CompletionRequest)
	}{
		{"model", func(r *CompletionRequest) { r.Model = "claude-haiku-3-5" }},
		{"message content", func(r *CompletionRequest) { r.Messages[1].Content = "Summarize this repository!" }},
		{"message role", func(r *CompletionRequest) { r.Messages[0].Role = "user" }},
		{"max tokens", func(r *CompletionRequest) { r.MaxTokens = 1024 }},
		{"temperature", func(r *CompletionRequest) { r.Temperature = 0.8 }},
		{"top_p", func(r *CompletionRequest) { r.TopP = 0.95 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := baseRequest()
			tt.mutate(req)
			if got := Fingerprint(req); got == base {
				t.Errorf("changing %s did not change the fingerprint", tt.name)
			}
		})
	}
}

func TestFingerprintFieldBoundaries(t *testing.T) {
	a := &CompletionRequest{Messages: []Message{{Role: "user", Content: "ab"}, {Role: "user", Content: "c"}}}
	b := &CompletionRequest{Messages: []Message{{Role: "user", Content: "a"}, {Role: "user", Content: "bc"}}}
	if Fingerprint(a) == Fingerprint(b) {
		t.Error("adjacent field contents collided")
	}
}

func TestFingerprintMessageOrder(t *testing.T) {
	a := &CompletionRequest{Messages: []Message{{Role: "user", Content: "first"}, {Role: "assistant", Content: "second"}}}
	b := &CompletionRequest{Messages: []Message{{Role: "assistant", Content: "second"}, {Role: "user", Content: "first"}}}
	if Fingerprint(a) == Fingerprint(b) {
		t.Error("reordering messages did not change the fingerprint")
	}
}
