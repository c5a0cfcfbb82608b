// Package provider registers the ChunkParser implementations for the
// supported upstream providers.
package provider

import (
	"fmt"

	"github.com/objstreamhq/objstream/pkg/modelcall"
	"github.com/objstreamhq/objstream/pkg/modelcall/provider/anthropic"
	"github.com/objstreamhq/objstream/pkg/modelcall/provider/ollama"
	"github.com/objstreamhq/objstream/pkg/modelcall/provider/openai"
)

// New returns the ChunkParser for the named provider.
func New(name string) (modelcall.ChunkParser, error) {
	switch name {
	case "openai":
		return openai.New(), nil
	case "anthropic":
		return anthropic.New(), nil
	case "ollama":
		return ollama.New(), nil
	default:
		return nil, fmt.Errorf("unknown provider type: %q", name)
	}
}

// Supported lists the recognized provider names.
func Supported() []string {
	return []string{"openai", "anthropic", "ollama"}
}
