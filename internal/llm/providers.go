package llm

import (
	"fmt"

	"subtrans/internal/services"
)

// wireKind selects the request/response shape a provider speaks.
type wireKind int

const (
	wireOpenAI wireKind = iota
	wireAnthropic
)

// Profile describes one supported provider.
type Profile struct {
	ID             string   `json:"id"`
	DisplayName    string   `json:"name"`
	Models         []string `json:"models"`
	DefaultBaseURL string   `json:"-"`
	wire           wireKind
}

var profiles = []Profile{
	{
		ID:             "openai",
		DisplayName:    "OpenAI",
		Models:         []string{"gpt-4o-mini", "gpt-4o", "gpt-4-turbo", "gpt-3.5-turbo"},
		DefaultBaseURL: "https://api.openai.com/v1",
		wire:           wireOpenAI,
	},
	{
		ID:             "claude",
		DisplayName:    "Claude",
		Models:         []string{"claude-sonnet-4-20250514", "claude-3-5-sonnet-20241022", "claude-3-5-haiku-20241022"},
		DefaultBaseURL: "https://api.anthropic.com/v1",
		wire:           wireAnthropic,
	},
	{
		ID:             "deepseek",
		DisplayName:    "DeepSeek",
		Models:         []string{"deepseek-chat", "deepseek-reasoner"},
		DefaultBaseURL: "https://api.deepseek.com",
		wire:           wireOpenAI,
	},
	{
		ID:             "glm",
		DisplayName:    "GLM",
		Models:         []string{"glm-4-flash", "glm-4-plus", "glm-4.6"},
		DefaultBaseURL: "https://open.bigmodel.cn/api/paas/v4",
		wire:           wireOpenAI,
	},
}

// Profiles returns the supported provider catalog in display order.
func Profiles() []Profile {
	out := make([]Profile, len(profiles))
	copy(out, profiles)
	return out
}

// ProfileByID resolves a provider name.
func ProfileByID(id string) (Profile, error) {
	for _, p := range profiles {
		if p.ID == id {
			return p, nil
		}
	}
	return Profile{}, services.Wrap(services.ErrUser, "llm", "profile", fmt.Sprintf("unknown provider %q", id), nil)
}
