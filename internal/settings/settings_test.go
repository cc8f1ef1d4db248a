package settings_test

import (
	"context"
	"errors"
	"testing"

	"subtrans/internal/services"
	"subtrans/internal/settings"
	"subtrans/internal/testsupport"
)

func newService(t *testing.T) *settings.Service {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	svc, err := settings.NewService(context.Background(), store, nil)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	return svc
}

func TestDefaultsSeeded(t *testing.T) {
	svc := newService(t)
	snap := svc.Snapshot()

	if snap.DefaultLLM() != "openai" {
		t.Fatalf("expected openai default provider, got %q", snap.DefaultLLM())
	}
	if snap.TargetLanguage() != "Chinese" {
		t.Fatalf("expected Chinese default target, got %q", snap.TargetLanguage())
	}
	if snap.OutputFormat() != "mkv" || snap.OverwriteMKV() {
		t.Fatalf("unexpected output defaults: format=%q overwrite=%v", snap.OutputFormat(), snap.OverwriteMKV())
	}
	if snap.MaxConcurrentTasks() != 2 {
		t.Fatalf("expected concurrency 2, got %d", snap.MaxConcurrentTasks())
	}
}

func TestEnvironmentSeeding(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env-seeded-key-123")
	t.Setenv("DEFAULT_LLM", "deepseek")

	svc := newService(t)
	snap := svc.Snapshot()

	creds, err := snap.Provider("openai")
	if err != nil {
		t.Fatalf("Provider failed: %v", err)
	}
	if creds.APIKey != "sk-env-seeded-key-123" {
		t.Fatalf("expected env-seeded key, got %q", creds.APIKey)
	}
	if snap.DefaultLLM() != "deepseek" {
		t.Fatalf("expected env-seeded provider, got %q", snap.DefaultLLM())
	}
}

func TestEnvironmentDoesNotOverrideStoredValues(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	if err := store.SetSetting(ctx, "default_llm", "glm"); err != nil {
		t.Fatalf("SetSetting failed: %v", err)
	}

	t.Setenv("DEFAULT_LLM", "claude")
	svc, err := settings.NewService(ctx, store, nil)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	if svc.Snapshot().DefaultLLM() != "glm" {
		t.Fatalf("stored value should win over env, got %q", svc.Snapshot().DefaultLLM())
	}
}

func TestApplyBumpsVersionAndFiresHooks(t *testing.T) {
	svc := newService(t)
	before := svc.Snapshot()

	var hookOld, hookNew settings.Snapshot
	svc.OnChange(func(old, new settings.Snapshot) {
		hookOld, hookNew = old, new
	})

	after, err := svc.Apply(context.Background(), map[string]any{
		"max_concurrent_tasks": float64(5),
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if after.Version != before.Version+1 {
		t.Fatalf("expected version bump, got %d -> %d", before.Version, after.Version)
	}
	if after.MaxConcurrentTasks() != 5 {
		t.Fatalf("expected concurrency 5, got %d", after.MaxConcurrentTasks())
	}
	if hookOld.Version != before.Version || hookNew.Version != after.Version {
		t.Fatalf("hook saw versions %d -> %d", hookOld.Version, hookNew.Version)
	}
}

func TestApplyNoopSkipsVersionBump(t *testing.T) {
	svc := newService(t)
	before := svc.Snapshot()

	after, err := svc.Apply(context.Background(), map[string]any{
		"default_llm": "openai",
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if after.Version != before.Version {
		t.Fatalf("no-op apply should keep version %d, got %d", before.Version, after.Version)
	}
}

func TestApplyRejectsUnknownKeyAndProvider(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	if _, err := svc.Apply(ctx, map[string]any{"no_such_key": "x"}); !errors.Is(err, services.ErrUser) {
		t.Fatalf("expected user error for unknown key, got %v", err)
	}
	if _, err := svc.Apply(ctx, map[string]any{"default_llm": "oracle"}); !errors.Is(err, services.ErrUser) {
		t.Fatalf("expected user error for unknown provider, got %v", err)
	}
	if _, err := svc.Apply(ctx, map[string]any{"subtitle_output_format": "sub"}); !errors.Is(err, services.ErrUser) {
		t.Fatalf("expected user error for unknown format, got %v", err)
	}
}

func TestFormatOverwriteMutualConstraint(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	snap, err := svc.Apply(ctx, map[string]any{"overwrite_mkv": true})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if !snap.OverwriteMKV() || snap.OutputFormat() != "mkv" {
		t.Fatalf("overwrite should force mkv: format=%q overwrite=%v", snap.OutputFormat(), snap.OverwriteMKV())
	}

	snap, err = svc.Apply(ctx, map[string]any{"subtitle_output_format": "srt"})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if snap.OutputFormat() != "srt" || snap.OverwriteMKV() {
		t.Fatalf("srt output should clear overwrite: format=%q overwrite=%v", snap.OutputFormat(), snap.OverwriteMKV())
	}
}

func TestConcurrencyClamped(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	snap, err := svc.Apply(ctx, map[string]any{"max_concurrent_tasks": 99})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if snap.MaxConcurrentTasks() != 10 {
		t.Fatalf("expected clamp to 10, got %d", snap.MaxConcurrentTasks())
	}

	snap, err = svc.Apply(ctx, map[string]any{"max_concurrent_tasks": 0})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if snap.MaxConcurrentTasks() != 1 {
		t.Fatalf("expected clamp to 1, got %d", snap.MaxConcurrentTasks())
	}
}

func TestSecretMaskingRoundTrip(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	if _, err := svc.Apply(ctx, map[string]any{"openai_api_key": "sk-verylongsecretkey9876"}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	values := svc.Snapshot().Values()
	masked := values["openai_api_key"]
	if masked != "sk-...9876" {
		t.Fatalf("unexpected masked key: %q", masked)
	}

	// Writing the masked rendering back must not clobber the stored key.
	if _, err := svc.Apply(ctx, map[string]any{"openai_api_key": masked}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	creds, err := svc.Snapshot().Provider("openai")
	if err != nil {
		t.Fatalf("Provider failed: %v", err)
	}
	if creds.APIKey != "sk-verylongsecretkey9876" {
		t.Fatalf("masked write clobbered the key: %q", creds.APIKey)
	}

	if _, err := svc.Apply(ctx, map[string]any{"claude_api_key": "***"}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	claude, err := svc.Snapshot().Provider("claude")
	if err != nil {
		t.Fatalf("Provider failed: %v", err)
	}
	if claude.APIKey != "" {
		t.Fatalf("placeholder write should be ignored, got %q", claude.APIKey)
	}
}

func TestMaskSecret(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"short", "***"},
		{"12345678", "***"},
		{"sk-abcdefgh1234", "sk-...1234"},
	}
	for _, tc := range cases {
		if got := settings.MaskSecret(tc.in); got != tc.want {
			t.Fatalf("MaskSecret(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
