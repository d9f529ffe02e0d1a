package llm

import (
	"log/slog"
	"testing"

	"github.com/aztriage/aztriage/internal/config"
)

func TestFactoryDefaultsToRules(t *testing.T) {
	for _, provider := range []string{"", "rules"} {
		client, err := New(config.LLMConfig{Provider: provider}, slog.Default())
		if err != nil {
			t.Fatalf("New(%q) error: %v", provider, err)
		}
		if _, ok := client.(*RulesClient); !ok {
			t.Errorf("New(%q) = %T, want *RulesClient", provider, client)
		}
	}
}

func TestFactoryUnknownProvider(t *testing.T) {
	if _, err := New(config.LLMConfig{Provider: "bard"}, slog.Default()); err == nil {
		t.Error("unknown provider should error")
	}
}

func TestFactoryAnthropicRequiresKey(t *testing.T) {
	cfg := config.LLMConfig{Provider: "anthropic"}
	if _, err := New(cfg, slog.Default()); err == nil {
		t.Error("missing api key should error")
	}
}
