package core

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint computes the deterministic cache key for a request.
//
// The hash covers only the fields that affect the produced completion:
// model identifier, message roles and contents in order, and the sampling
// parameters at fixed precision. Non-semantic fields (request IDs,
// timestamps) never reach this function, so identical logical requests
// always produce the same fingerprint.
func Fingerprint(req *CompletionRequest) string {
	h := xxhash.New()

	// Unit separators keep adjacent fields from colliding
	// ("ab"+"c" vs "a"+"bc").
	writeField(h, req.Model)
	for _, m := range req.Messages {
		writeField(h, m.Role)
		writeField(h, m.Content)
	}
	writeField(h, strconv.Itoa(req.MaxTokens))
	writeField(h, strconv.FormatFloat(req.Temperature, 'f', 4, 64))
	writeField(h, strconv.FormatFloat(req.TopP, 'f', 4, 64))

	return strconv.FormatUint(h.Sum64(), 16)
}

func writeField(h *xxhash.Digest, s string) {
	_, _ = h.WriteString(s)
	_, _ = h.Write([]byte{0x1f})
}
