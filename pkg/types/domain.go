package types

// Model represents a discoverable GGUF model on disk.
type Model struct {
	// Stable identifier for the model (file name without extension).
	// example: tinyllama-q4
	ID string `json:"id" yaml:"id"`
	// File name including extension.
	// example: tinyllama-q4.gguf
	Name string `json:"name" yaml:"name"`
	// Absolute path to the model file on disk.
	// example: /home/user/models/tinyllama-q4.gguf
	Path string `json:"path" yaml:"path"`
	// Size of the model file in bytes.
	SizeBytes int64 `json:"size_bytes" yaml:"size_bytes"`
}
