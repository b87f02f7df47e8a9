package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/goccy/go-json"

	"github.com/matchkit/matchkit/pkg/types"
)

// volatileFields are excluded from normalization so that semantically
// identical requests hit the prediction cache regardless of identifiers and
// timestamps.
var volatileFields = map[string]struct{}{
	"id":         {},
	"request_id": {},
	"created_at": {},
	"updated_at": {},
	"timestamp":  {},
}

// KeyGenerator builds deterministic cache keys from normalized request
// payloads using SHA-256. The key format is: [prefix:]namespace:sha256(...).
type KeyGenerator struct {
	// Prefix is prepended to all generated keys.
	Prefix string

	// ModelVersion is folded into prediction keys so a model upgrade never
	// serves predictions computed by older weights.
	ModelVersion string
}

// NewKeyGenerator creates a KeyGenerator with an optional prefix.
func NewKeyGenerator(prefix, modelVersion string) *KeyGenerator {
	return &KeyGenerator{Prefix: prefix, ModelVersion: modelVersion}
}

// normalizePayload returns a copy of the payload with volatile top-level
// fields removed.
func normalizePayload(p types.Payload) map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		if _, volatile := volatileFields[strings.ToLower(k)]; volatile {
			continue
		}
		out[k] = v
	}
	return out
}

// PredictionKey derives the canonical prediction cache key for a request.
// Only feature-relevant fields participate: the subject and counterpart
// payloads minus volatile fields, plus the context's extracted preferences.
// JSON map marshaling sorts keys, which makes the serialization canonical.
func (g *KeyGenerator) PredictionKey(req *types.InferenceRequest) (string, error) {
	normalized := map[string]any{
		"subject":     normalizePayload(req.Subject),
		"counterpart": normalizePayload(req.Counterpart),
	}
	if prefs, ok := req.Context["extracted_preferences"]; ok {
		normalized["context"] = prefs
	}
	if g.ModelVersion != "" {
		normalized["model_version"] = g.ModelVersion
	}

	raw, err := json.Marshal(normalized)
	if err != nil {
		return "", err
	}

	return g.build(string(KindPrediction), raw), nil
}

// EmbeddingKey derives the cache key for an entity embedding. Entities with
// an explicit id are keyed by it; anonymous payloads fall back to a content
// hash so repeated extractions of the same record still share an entry.
func (g *KeyGenerator) EmbeddingKey(kind types.EntityKind, payload types.Payload) (string, error) {
	namespace := string(KindSubjectEmbedding)
	if kind == types.EntityCounterpart {
		namespace = string(KindCounterpartEmbedding)
	}

	if id := EntityID(payload); id != "" {
		return g.buildRaw(namespace, id), nil
	}

	raw, err := json.Marshal(normalizePayload(payload))
	if err != nil {
		return "", err
	}
	return g.build(namespace, raw), nil
}

// EntityID extracts the payload's declared identifier, if any.
func EntityID(payload types.Payload) string {
	if id, ok := payload["id"].(string); ok {
		return id
	}
	return ""
}

func (g *KeyGenerator) build(namespace string, raw []byte) string {
	sum := sha256.Sum256(raw)
	return g.buildRaw(namespace, hex.EncodeToString(sum[:]))
}

func (g *KeyGenerator) buildRaw(namespace, suffix string) string {
	var key strings.Builder
	if g.Prefix != "" {
		key.WriteString(g.Prefix)
		key.WriteString(":")
	}
	key.WriteString(namespace)
	key.WriteString(":")
	key.WriteString(suffix)
	return key.String()
}
