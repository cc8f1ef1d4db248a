package settings

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"subtrans/internal/logging"
	"subtrans/internal/queue"
	"subtrans/internal/services"
)

// Keys for the persisted settings singleton.
const (
	KeyOpenAIAPIKey   = "openai_api_key"
	KeyOpenAIModel    = "openai_model"
	KeyOpenAIBaseURL  = "openai_base_url"
	KeyClaudeAPIKey   = "claude_api_key"
	KeyClaudeModel    = "claude_model"
	KeyDeepSeekAPIKey = "deepseek_api_key"
	KeyDeepSeekModel  = "deepseek_model"
	KeyDeepSeekBase   = "deepseek_base_url"
	KeyGLMAPIKey      = "glm_api_key"
	KeyGLMModel       = "glm_model"
	KeyGLMBaseURL     = "glm_base_url"
	KeyDefaultLLM     = "default_llm"
	KeyTargetLanguage = "target_language"
	KeySourceLanguage = "source_language"
	KeyBilingual      = "bilingual_output"
	KeyOutputFormat   = "subtitle_output_format"
	KeyOverwriteMKV   = "overwrite_mkv"
	KeyMaxConcurrent  = "max_concurrent_tasks"
)

var defaults = map[string]string{
	KeyOpenAIAPIKey:   "",
	KeyOpenAIModel:    "gpt-4o-mini",
	KeyOpenAIBaseURL:  "",
	KeyClaudeAPIKey:   "",
	KeyClaudeModel:    "claude-sonnet-4-20250514",
	KeyDeepSeekAPIKey: "",
	KeyDeepSeekModel:  "deepseek-chat",
	KeyDeepSeekBase:   "https://api.deepseek.com",
	KeyGLMAPIKey:      "",
	KeyGLMModel:       "glm-4-flash",
	KeyGLMBaseURL:     "https://open.bigmodel.cn/api/paas/v4",
	KeyDefaultLLM:     "openai",
	KeyTargetLanguage: "Chinese",
	KeySourceLanguage: "auto",
	KeyBilingual:      "false",
	KeyOutputFormat:   "mkv",
	KeyOverwriteMKV:   "false",
	KeyMaxConcurrent:  "2",
}

var secretKeys = map[string]struct{}{
	KeyOpenAIAPIKey:   {},
	KeyClaudeAPIKey:   {},
	KeyDeepSeekAPIKey: {},
	KeyGLMAPIKey:      {},
}

var knownProviders = map[string]struct{}{
	"openai":   {},
	"claude":   {},
	"deepseek": {},
	"glm":      {},
}

var knownFormats = map[string]struct{}{
	"mkv": {},
	"srt": {},
	"ass": {},
}

// Snapshot is an immutable view of the runtime settings.
type Snapshot struct {
	Version int64
	values  map[string]string
}

// Get returns a raw settings value; unknown keys return the empty string.
func (s Snapshot) Get(key string) string {
	return s.values[key]
}

// Bool parses a boolean settings value.
func (s Snapshot) Bool(key string) bool {
	value, err := strconv.ParseBool(s.values[key])
	return err == nil && value
}

// Int parses an integer settings value, falling back to the key default.
func (s Snapshot) Int(key string) int {
	if value, err := strconv.Atoi(s.values[key]); err == nil {
		return value
	}
	fallback, _ := strconv.Atoi(defaults[key])
	return fallback
}

// DefaultLLM returns the configured default provider.
func (s Snapshot) DefaultLLM() string { return s.Get(KeyDefaultLLM) }

// TargetLanguage returns the configured default target language.
func (s Snapshot) TargetLanguage() string { return s.Get(KeyTargetLanguage) }

// SourceLanguage returns the configured source language ("auto" detects).
func (s Snapshot) SourceLanguage() string { return s.Get(KeySourceLanguage) }

// BilingualOutput reports whether bilingual composition is enabled.
func (s Snapshot) BilingualOutput() bool { return s.Bool(KeyBilingual) }

// OutputFormat returns the subtitle output format (mkv, srt, or ass).
func (s Snapshot) OutputFormat() string { return s.Get(KeyOutputFormat) }

// OverwriteMKV reports whether MKV sources are replaced in place.
func (s Snapshot) OverwriteMKV() bool { return s.Bool(KeyOverwriteMKV) }

// MaxConcurrentTasks returns the worker pool bound, clamped to 1..10.
func (s Snapshot) MaxConcurrentTasks() int {
	return clampConcurrency(s.Int(KeyMaxConcurrent))
}

// ProviderCredentials holds the connection material for one LLM provider.
type ProviderCredentials struct {
	Provider string
	APIKey   string
	Model    string
	BaseURL  string
}

// Provider resolves credentials for a known provider name.
func (s Snapshot) Provider(name string) (ProviderCredentials, error) {
	switch name {
	case "openai":
		return ProviderCredentials{Provider: name, APIKey: s.Get(KeyOpenAIAPIKey), Model: s.Get(KeyOpenAIModel), BaseURL: s.Get(KeyOpenAIBaseURL)}, nil
	case "claude":
		return ProviderCredentials{Provider: name, APIKey: s.Get(KeyClaudeAPIKey), Model: s.Get(KeyClaudeModel)}, nil
	case "deepseek":
		return ProviderCredentials{Provider: name, APIKey: s.Get(KeyDeepSeekAPIKey), Model: s.Get(KeyDeepSeekModel), BaseURL: s.Get(KeyDeepSeekBase)}, nil
	case "glm":
		return ProviderCredentials{Provider: name, APIKey: s.Get(KeyGLMAPIKey), Model: s.Get(KeyGLMModel), BaseURL: s.Get(KeyGLMBaseURL)}, nil
	default:
		return ProviderCredentials{}, services.Wrap(services.ErrUser, "settings", "provider", fmt.Sprintf("unknown provider %q", name), nil)
	}
}

// Values returns a copy of every settings key with secrets masked.
func (s Snapshot) Values() map[string]string {
	out := make(map[string]string, len(s.values))
	for key, value := range s.values {
		if _, secret := secretKeys[key]; secret {
			out[key] = MaskSecret(value)
		} else {
			out[key] = value
		}
	}
	return out
}

// ChangeHook is invoked after a successful update with the previous and new
// snapshots.
type ChangeHook func(old, new Snapshot)

// Service owns the settings singleton.
type Service struct {
	store  *queue.Store
	logger *slog.Logger

	mu       sync.RWMutex
	snapshot Snapshot
	hooks    []ChangeHook
}

// NewService loads the singleton from the store, seeding missing keys from
// defaults and uppercase environment mirrors.
func NewService(ctx context.Context, store *queue.Store, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	svc := &Service{
		store:  store,
		logger: logging.NewComponentLogger(logger, "settings"),
	}

	stored, err := store.AllSettings(ctx)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "settings", "load", "load settings", err)
	}

	seeded := make(map[string]string)
	values := make(map[string]string, len(defaults))
	for key, fallback := range defaults {
		if value, ok := stored[key]; ok {
			values[key] = value
			continue
		}
		value := fallback
		if env := os.Getenv(strings.ToUpper(key)); env != "" {
			value = env
		}
		values[key] = value
		seeded[key] = value
	}
	normalizeValues(values)
	for key := range seeded {
		seeded[key] = values[key]
	}

	if len(seeded) > 0 {
		if err := store.SetSettings(ctx, seeded); err != nil {
			return nil, services.Wrap(services.ErrTransient, "settings", "seed", "persist seeded settings", err)
		}
		svc.logger.Debug("seeded settings", logging.Int("keys", len(seeded)))
	}

	svc.snapshot = Snapshot{Version: 1, values: values}
	return svc, nil
}

// Snapshot returns the current immutable settings view.
func (s *Service) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// OnChange registers a hook fired after each successful update.
func (s *Service) OnChange(hook ChangeHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, hook)
}

// Apply validates and persists a set of changes. Values may be strings,
// bools, or numbers (JSON decoding yields float64). Masked secret values are
// ignored so a round-tripped settings form never overwrites stored keys.
func (s *Service) Apply(ctx context.Context, changes map[string]any) (Snapshot, error) {
	normalized := make(map[string]string, len(changes))
	for key, raw := range changes {
		if _, known := defaults[key]; !known {
			return Snapshot{}, services.Wrap(services.ErrUser, "settings", "apply", fmt.Sprintf("unknown settings key %q", key), nil)
		}
		value, err := stringify(key, raw)
		if err != nil {
			return Snapshot{}, err
		}
		if _, secret := secretKeys[key]; secret && IsMaskedSecret(value) {
			continue
		}
		normalized[key] = value
	}

	if err := validateChanges(normalized); err != nil {
		return Snapshot{}, err
	}

	s.mu.Lock()
	old := s.snapshot
	values := make(map[string]string, len(old.values))
	for key, value := range old.values {
		values[key] = value
	}
	changed := make(map[string]struct{}, len(normalized))
	for key, value := range normalized {
		values[key] = value
		changed[key] = struct{}{}
	}
	normalizeChanged(values, changed)

	delta := make(map[string]string)
	for key, value := range values {
		if old.values[key] != value {
			delta[key] = value
		}
	}
	if len(delta) == 0 {
		s.mu.Unlock()
		return old, nil
	}

	if err := s.store.SetSettings(ctx, delta); err != nil {
		s.mu.Unlock()
		return Snapshot{}, services.Wrap(services.ErrTransient, "settings", "apply", "persist settings", err)
	}

	next := Snapshot{Version: old.Version + 1, values: values}
	s.snapshot = next
	hooks := make([]ChangeHook, len(s.hooks))
	copy(hooks, s.hooks)
	s.mu.Unlock()

	keys := make([]string, 0, len(delta))
	for key := range delta {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	s.logger.Info("settings updated",
		logging.Int64("version", next.Version),
		logging.String("keys", strings.Join(keys, ",")))

	for _, hook := range hooks {
		hook(old, next)
	}
	return next, nil
}

// MaskSecret renders an API key for display. Empty keys stay empty, short
// keys become "***", longer keys keep the first three and last four
// characters.
func MaskSecret(value string) string {
	if value == "" {
		return ""
	}
	if len(value) <= 8 {
		return "***"
	}
	return value[:3] + "..." + value[len(value)-4:]
}

// IsMaskedSecret reports whether a submitted value is a masked rendering
// rather than a real key.
func IsMaskedSecret(value string) bool {
	return value == "***" || strings.Contains(value, "...")
}

func stringify(key string, raw any) (string, error) {
	switch v := raw.(type) {
	case string:
		return strings.TrimSpace(v), nil
	case bool:
		return strconv.FormatBool(v), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.Itoa(int(v)), nil
	case nil:
		return "", nil
	default:
		return "", services.Wrap(services.ErrUser, "settings", "apply", fmt.Sprintf("unsupported value type for %q", key), nil)
	}
}

func validateChanges(changes map[string]string) error {
	if provider, ok := changes[KeyDefaultLLM]; ok {
		if _, known := knownProviders[provider]; !known {
			return services.Wrap(services.ErrUser, "settings", "apply", fmt.Sprintf("unknown provider %q", provider), nil)
		}
	}
	if format, ok := changes[KeyOutputFormat]; ok {
		if _, known := knownFormats[format]; !known {
			return services.Wrap(services.ErrUser, "settings", "apply", fmt.Sprintf("unknown output format %q", format), nil)
		}
	}
	for _, key := range []string{KeyBilingual, KeyOverwriteMKV} {
		if value, ok := changes[key]; ok {
			if _, err := strconv.ParseBool(value); err != nil {
				return services.Wrap(services.ErrUser, "settings", "apply", fmt.Sprintf("%s must be a boolean", key), nil)
			}
		}
	}
	if value, ok := changes[KeyMaxConcurrent]; ok {
		if _, err := strconv.Atoi(value); err != nil {
			return services.Wrap(services.ErrUser, "settings", "apply", "max_concurrent_tasks must be an integer", nil)
		}
	}
	return nil
}

// normalizeValues enforces the mutual constraints between output format and
// in-place MKV overwrite, and clamps the concurrency bound. Used when no
// change origin is known (initial load): format wins over overwrite.
func normalizeValues(values map[string]string) {
	normalizeChanged(values, nil)
}

// normalizeChanged applies the format/overwrite constraint with the key that
// changed in this update taking precedence.
func normalizeChanged(values map[string]string, changed map[string]struct{}) {
	overwrite, _ := strconv.ParseBool(values[KeyOverwriteMKV])
	format := values[KeyOutputFormat]
	if _, known := knownFormats[format]; !known {
		format = defaults[KeyOutputFormat]
	}

	_, formatChanged := changed[KeyOutputFormat]
	_, overwriteChanged := changed[KeyOverwriteMKV]
	if overwrite && format != "mkv" {
		if overwriteChanged && !formatChanged {
			format = "mkv"
		} else {
			overwrite = false
		}
	}
	values[KeyOutputFormat] = format
	values[KeyOverwriteMKV] = strconv.FormatBool(overwrite)

	concurrency, err := strconv.Atoi(values[KeyMaxConcurrent])
	if err != nil {
		concurrency, _ = strconv.Atoi(defaults[KeyMaxConcurrent])
	}
	values[KeyMaxConcurrent] = strconv.Itoa(clampConcurrency(concurrency))
}

func clampConcurrency(value int) int {
	if value < 1 {
		return 1
	}
	if value > 10 {
		return 10
	}
	return value
}
