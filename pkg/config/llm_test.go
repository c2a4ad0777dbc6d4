package config

import "testing"

func TestLLMConfig_ProviderFromEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "k")

	t.Setenv("HIVEMIND_LLM_PROVIDER", "openai")
	cfg := LLMConfig{}
	cfg.SetDefaults()
	if cfg.Provider != LLMProviderOpenAI {
		t.Errorf("Provider = %s, want openai", cfg.Provider)
	}
	if cfg.Model != "gpt-4o-mini" {
		t.Errorf("Model = %s, want gpt-4o-mini", cfg.Model)
	}

	t.Setenv("HIVEMIND_LLM_PROVIDER", "")
	cfg = LLMConfig{}
	cfg.SetDefaults()
	if cfg.Provider != LLMProviderOllama {
		t.Errorf("Provider = %s, want ollama", cfg.Provider)
	}
}
