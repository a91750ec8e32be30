package embedding

import (
	"context"
	"math"
	"testing"

	"github.com/hyperjump/recall/internal/config"
	"github.com/hyperjump/recall/internal/vector"
)

func TestResolveDimensions(t *testing.T) {
	if d, err := ResolveDimensions(DefaultModel, 0); err != nil || d != 384 {
		t.Errorf("known model: %d, %v", d, err)
	}
	if d, err := ResolveDimensions("custom/model", 512); err != nil || d != 512 {
		t.Errorf("explicit dims: %d, %v", d, err)
	}
	if _, err := ResolveDimensions("custom/model", 0); err == nil {
		t.Error("unknown model without dimensions should fail")
	}
	if _, err := ResolveDimensions("", 0); err == nil {
		t.Error("empty model should fail")
	}
}

func TestHashEmbedder(t *testing.T) {
	e := NewHashEmbedder("test", 16)
	ctx := context.Background()
	a, err := e.Embed(ctx, "vector search over conversations")
	if err != nil {
		t.Fatal(err)
	}
	if len(a) != 16 {
		t.Fatalf("len = %d", len(a))
	}
	if n := vector.L2Norm(a); math.Abs(n-1) > 1e-5 {
		t.Errorf("norm = %v, want 1", n)
	}
	b, _ := e.Embed(ctx, "vector search over conversations")
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("embedding is not deterministic")
		}
	}
	if _, err := e.Embed(ctx, " \n "); err != ErrEmptyText {
		t.Errorf("blank text error = %v", err)
	}
}

func TestNew(t *testing.T) {
	ctx := context.Background()
	e, err := New(ctx, config.EmbeddingConfig{Provider: config.ProviderHash, Model: DefaultModel, CacheSize: 10}, config.CacheConfig{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()
	if e.Dimensions() != 384 || e.Model() != DefaultModel {
		t.Errorf("dims=%d model=%s", e.Dimensions(), e.Model())
	}

	if _, err := New(ctx, config.EmbeddingConfig{Provider: "word2vec"}, config.CacheConfig{}, nil); err == nil {
		t.Error("unknown provider should fail")
	}
	if _, err := New(ctx, config.EmbeddingConfig{Provider: config.ProviderHash, Model: "nobody/knows"}, config.CacheConfig{}, nil); err == nil {
		t.Error("unknown model should fail at construction")
	}
	if _, err := New(ctx, config.EmbeddingConfig{Provider: config.ProviderONNX, Model: DefaultModel, ModelPath: "/nonexistent/model.onnx"}, config.CacheConfig{}, nil); err == nil {
		t.Error("missing onnx model should fail at construction")
	}
}
