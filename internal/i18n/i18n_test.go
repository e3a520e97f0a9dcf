package i18n

import (
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	cases := map[string]Language{
		"":        "",
		"  ":      "",
		"EN-us":   LanguageEnglish,
		"Chinese": LanguageChinese,
		"中文":      LanguageChinese,
		"ja":      Language("ja"),
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Fatalf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDisplayName(t *testing.T) {
	if name := LanguageChinese.DisplayName(); name != "中文" {
		t.Fatalf("unexpected chinese display name: %q", name)
	}
	if name := Language("en-GB").DisplayName(); name != "English" {
		t.Fatalf("unexpected english display name: %q", name)
	}
	if name := Language("fr").DisplayName(); name != "fr" {
		t.Fatalf("unexpected passthrough display name: %q", name)
	}
}

func TestInstruction(t *testing.T) {
	if got := Language("").Instruction(); got != "" {
		t.Fatalf("expected no instruction without a language, got %q", got)
	}
	got := Language("zh-CN").Instruction()
	if !strings.HasPrefix(got, "Reply in 中文 (zh)") {
		t.Fatalf("unexpected instruction: %q", got)
	}
}
