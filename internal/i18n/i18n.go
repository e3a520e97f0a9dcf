package i18n

import (
	"fmt"
	"strings"
)

// Language 是用户希望模型使用的回复语言，使用简短代码（zh、en）。
type Language string

const (
	LanguageChinese Language = "zh"
	LanguageEnglish Language = "en"
)

// Normalize 把配置里的写法统一成语言代码。空值表示未配置，未知值原样保留。
func Normalize(value string) Language {
	lang := strings.ToLower(strings.TrimSpace(value))
	switch lang {
	case "":
		return ""
	case "zh", "zh-cn", "zh_cn", "zh-hans", "cn", "chinese", "中文":
		return LanguageChinese
	case "en", "en-us", "en_us", "en-gb", "english":
		return LanguageEnglish
	default:
		return Language(lang)
	}
}

// DisplayName 返回适合展示的语言名称。
func (l Language) DisplayName() string {
	switch Normalize(string(l)) {
	case LanguageChinese:
		return "中文"
	case LanguageEnglish:
		return "English"
	default:
		return strings.TrimSpace(string(l))
	}
}

// Instruction renders the context entry sent to the model; empty when no
// language is configured.
func (l Language) Instruction() string {
	code := Normalize(string(l))
	if code == "" {
		return ""
	}
	return fmt.Sprintf("Reply in %s (%s) unless the user explicitly asks for another language. Keep code, identifiers and shell commands unchanged.", code.DisplayName(), code)
}
