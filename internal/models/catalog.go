// Package models holds the static catalog of chat models exposed to clients.
// Each model is plain data: identifier, display label and a free flag that
// controls billing eligibility.
package models

import (
	"fmt"
	"strings"
)

type Model struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Free  bool   `json:"free"`
}

// Allowed is the full catalog, in menu order.
var Allowed = []Model{
	{ID: "moonshotai/kimi-k2.5:nitro", Label: "Kimi K2.5", Free: false},
	{ID: "deepseek/deepseek-v3.2:nitro", Label: "DeepSeek V3.2", Free: false},
	{ID: "qwen/qwen3-coder-next:nitro", Label: "Qwen3 Coder Next", Free: false},
	{ID: "deepseek/deepseek-v3.2-speciale:nitro", Label: "DeepSeek V3.2 Speciale", Free: false},
	{ID: "stepfun/step-3.5-flash:free", Label: "Step 3.5 Flash", Free: true},
	{ID: "arcee-ai/trinity-large-preview:free", Label: "Trinity Large Preview", Free: true},
	{ID: "minimax/minimax-m2-her:nitro", Label: "MiniMax M2-her", Free: false},
	{ID: "writer/palmyra-x5:nitro", Label: "Palmyra X5", Free: false},
	{ID: "openai/gpt-5.2-codex:nitro", Label: "GPT-5.2-Codex", Free: false},
	{ID: "z-ai/glm-4.7:nitro", Label: "GLM 4.7", Free: false},
	{ID: "mistralai/mistral-small-creative:nitro", Label: "Mistral Small Creative", Free: false},
	{ID: "xiaomi/mimo-v2-flash:nitro", Label: "MiMo-V2-Flash", Free: false},
	{ID: "nvidia/nemotron-3-nano-30b-a3b:nitro", Label: "Nemotron 3 Nano 30B A3B", Free: false},
	{ID: "openai/gpt-5.2-chat:nitro", Label: "GPT-5.2 Chat", Free: false},
	{ID: "amazon/nova-2-lite-v1:nitro", Label: "Nova 2 Lite", Free: false},
}

// TitleModel is the fixed free model used for conversation title generation.
const TitleModel = "arcee-ai/trinity-large-preview:free"

var byID = func() map[string]Model {
	out := make(map[string]Model, len(Allowed))
	for _, m := range Allowed {
		out[m.ID] = m
	}
	return out
}()

// IsFree reports whether the model is exempt from auth and balance checks.
func IsFree(id string) bool {
	m, ok := byID[id]
	return ok && m.Free
}

func Label(id string) string {
	if m, ok := byID[id]; ok {
		return m.Label
	}
	return id
}

// Resolve returns the requested model when it is in the catalog, otherwise
// the configured default.
func Resolve(requested, fallback string) string {
	if _, ok := byID[requested]; ok {
		return requested
	}
	return fallback
}

// SlugFromID derives a URL slug from a model id, e.g.
// "moonshotai/kimi-k2.5:nitro" -> "kimi-k2-5".
func SlugFromID(id string) string {
	last := id
	if i := strings.LastIndex(last, "/"); i >= 0 {
		last = last[i+1:]
	}
	if i := strings.Index(last, ":"); i >= 0 {
		last = last[:i]
	}
	return strings.ReplaceAll(last, ".", "-")
}

const fallbackPromptModel = "moonshotai/kimi-k2.5:nitro"

var promptNames = map[string]string{
	"moonshotai/kimi-k2.5":                  "Kimi K2.5",
	"moonshotai/kimi-k2.5:nitro":            "Kimi K2.5",
	"deepseek/deepseek-v3.2:nitro":          "DeepSeek V3.2",
	"qwen/qwen3-coder-next:nitro":           "Qwen3 Coder Next",
	"deepseek/deepseek-v3.2-speciale:nitro": "DeepSeek V3.2 Speciale",
	"stepfun/step-3.5-flash:free":           "Step 3.5 Flash",
	"arcee-ai/trinity-large-preview:free":   "Trinity Large Preview",
	"minimax/minimax-m2-her:nitro":          "MiniMax M2-her",
	"writer/palmyra-x5:nitro":               "Palmyra X5",
	"openai/gpt-5.2-codex:nitro":            "GPT-5.2-Codex",
	"z-ai/glm-4.7:nitro":                    "GLM 4.7",
	"mistralai/mistral-small-creative:nitro": "Mistral Small Creative",
	"xiaomi/mimo-v2-flash:nitro":            "MiMo-V2-Flash",
	"nvidia/nemotron-3-nano-30b-a3b:nitro":  "Nemotron 3 Nano 30B A3B",
	"openai/gpt-5.2-chat:nitro":             "GPT-5.2 Chat",
	"openai/gpt-5.2-pro:nitro":              "GPT-5.2 Pro",
	"amazon/nova-2-lite-v1:nitro":           "Nova 2 Lite",
}

// SystemPromptFor returns the per-model system prompt. The prompt always
// names the model actually answering, which is why callers regenerate it on
// every turn instead of reusing the one stored with the conversation.
func SystemPromptFor(id string) string {
	name, ok := promptNames[id]
	if !ok {
		name = promptNames[fallbackPromptModel]
	}
	return fmt.Sprintf(
		"Ты — %s. На вопросы о версии или имени всегда отвечай: %s. "+
			"Если в сообщении есть код на разных языках, разделяй его на разные блоки с указанием языка: ```html```, ```css```, ```json``` и т.д.",
		name, name,
	)
}

// ShortDescriptions maps model ids to the one-line blurbs shown on model
// landing pages.
var ShortDescriptions = map[string]string{
	"moonshotai/kimi-k2.5:nitro":            "Moonshot AI: развёрнутые объяснения, диалог, творческие задачи.",
	"deepseek/deepseek-v3.2:nitro":          "Аналитика, программирование, точные формулировки. Сильный в коде.",
	"qwen/qwen3-coder-next:nitro":           "Оптимизирована для кода и агентов. Длинный контекст, надёжность в CLI и IDE.",
	"deepseek/deepseek-v3.2-speciale:nitro": "Максимум рассуждений и агентных сценариев. Высокая точность на сложных задачах.",
	"stepfun/step-3.5-flash:free":           "Рассуждения, MoE-архитектура. Быстрая и эффективная модель. Бесплатно.",
	"arcee-ai/trinity-large-preview:free":   "Креатив, сторителлинг, ролевые сценарии. Крупная MoE. Бесплатно.",
	"minimax/minimax-m2-her:nitro":          "Диалог, ролевые сценарии, выразительные многотуровые разговоры.",
	"writer/palmyra-x5:nitro":               "Агенты, длинный контекст до 1M токенов. Скорость и масштаб для enterprise.",
	"openai/gpt-5.2-codex:nitro":            "Программирование: интерактивная разработка, рефакторинг, код-ревью.",
	"z-ai/glm-4.7:nitro":                    "Улучшенный код и рассуждения. Стабильное выполнение многошаговых задач.",
	"mistralai/mistral-small-creative:nitro": "Креативные тексты, нарративы, ролевые сценарии. Экспериментальная компактная модель.",
	"xiaomi/mimo-v2-flash:nitro":            "Рассуждения, код, агенты. Гибридное мышление, топ среди open-source по SWE-bench.",
	"nvidia/nemotron-3-nano-30b-a3b:nitro":  "Компактный MoE для агентных систем. Высокая эффективность и точность.",
	"openai/gpt-5.2-chat:nitro":             "Быстрый чат, низкая задержка. Адаптивные рассуждения на сложных запросах.",
	"amazon/nova-2-lite-v1:nitro":           "Рассуждения для повседневных задач. Текст, изображения, видео. Экономичная модель.",
}
