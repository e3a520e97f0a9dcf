package context

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxErrorChars caps error text fed back to the model.
const MaxErrorChars = 10_000

// TruncateMiddle keeps the head and tail of s within limit characters and
// replaces the middle with a marker naming how much was dropped.
func TruncateMiddle(s string, limit int) string {
	total := utf8.RuneCountInString(s)
	if limit <= 0 || total <= limit {
		return s
	}
	head := limit / 2
	tail := limit - head
	removed, prefix, suffix := splitRunes(s, head, tail)
	return prefix + fmt.Sprintf("\n\n... [%d characters truncated] ...\n\n", removed) + suffix
}

// TruncateLines 保留前后各一半的行，中间替换为省略提示；同时受字符上限约束。
func TruncateLines(s string, maxLines, maxChars int) string {
	lines := strings.Split(s, "\n")
	if maxLines > 0 && len(lines) > maxLines {
		head := maxLines / 2
		tail := maxLines - head
		removed := len(lines) - maxLines
		kept := append([]string{}, lines[:head]...)
		kept = append(kept, fmt.Sprintf("... [%d lines truncated] ...", removed))
		kept = append(kept, lines[len(lines)-tail:]...)
		s = strings.Join(kept, "\n")
	}
	return TruncateMiddle(s, maxChars)
}

// splitRunes 按 rune 切分，保证不会截断 UTF-8 字符。
func splitRunes(s string, headRunes, tailRunes int) (removed int, prefix, suffix string) {
	total := utf8.RuneCountInString(s)
	if headRunes+tailRunes >= total {
		return 0, s, ""
	}
	prefixEnd, suffixStart := 0, len(s)
	i := 0
	for idx := range s {
		if i == headRunes {
			prefixEnd = idx
		}
		if i == total-tailRunes {
			suffixStart = idx
			break
		}
		i++
	}
	if headRunes == 0 {
		prefixEnd = 0
	}
	return total - headRunes - tailRunes, s[:prefixEnd], s[suffixStart:]
}
