package models

import (
	"strings"
	"testing"
)

func TestIsFreeMatchesCatalogFlags(t *testing.T) {
	if !IsFree("stepfun/step-3.5-flash:free") {
		t.Fatal("expected step flash to be free")
	}
	if !IsFree("arcee-ai/trinity-large-preview:free") {
		t.Fatal("expected trinity to be free")
	}
	if IsFree("moonshotai/kimi-k2.5:nitro") {
		t.Fatal("expected kimi to be paid")
	}
	if IsFree("unknown/model") {
		t.Fatal("unknown models must not be treated as free")
	}
}

func TestResolveFallsBackForUnknownModels(t *testing.T) {
	if got := Resolve("deepseek/deepseek-v3.2:nitro", "fallback"); got != "deepseek/deepseek-v3.2:nitro" {
		t.Fatalf("expected catalog model to pass through, got %q", got)
	}
	if got := Resolve("not/in-catalog", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback for unknown model, got %q", got)
	}
	if got := Resolve("", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback for empty model, got %q", got)
	}
}

func TestSystemPromptNamesTheActiveModel(t *testing.T) {
	prompt := SystemPromptFor("z-ai/glm-4.7:nitro")
	if !strings.Contains(prompt, "GLM 4.7") {
		t.Fatalf("prompt does not name the model: %q", prompt)
	}

	fallback := SystemPromptFor("unknown/model")
	if !strings.Contains(fallback, "Kimi K2.5") {
		t.Fatalf("fallback prompt should name the default model: %q", fallback)
	}
}

func TestSlugFromID(t *testing.T) {
	cases := map[string]string{
		"moonshotai/kimi-k2.5:nitro":          "kimi-k2-5",
		"stepfun/step-3.5-flash:free":         "step-3-5-flash",
		"nvidia/nemotron-3-nano-30b-a3b:nitro": "nemotron-3-nano-30b-a3b",
	}
	for id, want := range cases {
		if got := SlugFromID(id); got != want {
			t.Fatalf("slug for %q: expected %q, got %q", id, want, got)
		}
	}
}

func TestEveryCatalogModelHasLabelAndDescription(t *testing.T) {
	for _, m := range Allowed {
		if Label(m.ID) != m.Label {
			t.Fatalf("label lookup mismatch for %s", m.ID)
		}
		if _, ok := ShortDescriptions[m.ID]; !ok {
			t.Fatalf("missing short description for %s", m.ID)
		}
	}
}
