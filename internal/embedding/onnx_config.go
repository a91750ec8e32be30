package embedding

// ONNXConfig describes a local sentence-embedding model exported to ONNX.
type ONNXConfig struct {
	Model      string
	ModelPath  string
	VocabPath  string
	Dimensions int
	MaxTokens  int
	// OutputName is the graph output to read. "last_hidden_state" outputs are mean-pooled
	// over the attention mask; any other output is taken as an already pooled [1, dims] tensor.
	OutputName string
}

const outputLastHiddenState = "last_hidden_state"

func (c ONNXConfig) pooled() bool {
	return c.OutputName != outputLastHiddenState
}
