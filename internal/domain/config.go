package domain

// KeyPrefix namespaces every key this service writes to the KV store.
// Set once at startup from configuration.
var KeyPrefix = "zoomdex:"

// EncoderConfig holds internal vectorization settings, not exposed to clients.
type EncoderConfig struct {
	Model          string
	Dimensions     int
	DistanceMetric string
	QueryTemplate  string
	MaxImageEdge   int
}

// DefaultEncoderConfig returns the default configuration tuned for
// CLIP ViT-B-32 served behind an OpenAI-compatible embeddings endpoint.
func DefaultEncoderConfig() EncoderConfig {
	return EncoderConfig{
		Model:          "clip-vit-b-32",
		Dimensions:     512,
		DistanceMetric: "cosine",
		QueryTemplate:  "a photo of %s",
		MaxImageEdge:   336,
	}
}
