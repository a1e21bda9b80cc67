//go:build onnx

package cli

import (
	"github.com/arvid/mnemo/internal/config"
	"github.com/arvid/mnemo/pkg/memory"
	"github.com/arvid/mnemo/pkg/memory/embedder/onnx"
)

func init() {
	providerFactories["onnx"] = func(cfg *config.Config) (memory.EmbeddingProvider, error) {
		return onnx.New(onnx.Config{
			ModelPath:     cfg.Embedding.ModelPath,
			TokenizerPath: cfg.Embedding.TokenizerPath,
			Dimension:     cfg.Store.Dimension,
		})
	}
}
