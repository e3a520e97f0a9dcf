package permission

import (
	"bytes"
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// SubCommand 是复合命令（&&、||、|、;）拆开后的一段。
type SubCommand struct {
	Text string
	// Words 仅在 Simple 时有效：全部为字面量的参数列表。
	Words []string
	// Simple 表示普通命令调用，不含变量赋值、命令替换、参数展开或控制结构。
	Simple bool
	// Redirected 表示输出被重定向到文件。
	Redirected bool
}

// 这些命令只读取状态，不需要确认。
var safeCommands = []string{
	"git status",
	"git diff",
	"git log",
	"git branch",
	"git show",
	"pwd",
	"tree",
	"date",
	"which",
	"ls",
}

// 前缀规则会带上子命令的工具。
var subcommandTools = map[string]struct{}{
	"git": {}, "go": {}, "npm": {}, "pnpm": {}, "yarn": {}, "bun": {}, "cargo": {},
	"docker": {}, "kubectl": {}, "make": {}, "pip": {}, "poetry": {}, "gh": {},
	"terraform": {}, "helm": {}, "dotnet": {}, "mvn": {}, "gradle": {},
}

// SplitCommands parses command with the bash grammar and flattens &&, ||,
// pipes and statement lists into sub-commands.
func SplitCommands(command string) ([]SubCommand, error) {
	file, err := syntax.NewParser().Parse(strings.NewReader(command), "")
	if err != nil {
		return nil, err
	}
	var out []SubCommand
	for _, stmt := range file.Stmts {
		collect(stmt, &out)
	}
	return out, nil
}

func collect(stmt *syntax.Stmt, out *[]SubCommand) {
	if bin, ok := stmt.Cmd.(*syntax.BinaryCmd); ok && len(stmt.Redirs) == 0 && !stmt.Negated && !stmt.Background {
		collect(bin.X, out)
		collect(bin.Y, out)
		return
	}
	*out = append(*out, describe(stmt))
}

func describe(stmt *syntax.Stmt) SubCommand {
	sc := SubCommand{Text: printNode(stmt)}
	for _, r := range stmt.Redirs {
		if writesFile(r) {
			sc.Redirected = true
		}
	}
	call, ok := stmt.Cmd.(*syntax.CallExpr)
	if !ok || len(call.Assigns) > 0 || len(call.Args) == 0 || stmt.Background {
		return sc
	}
	words := make([]string, 0, len(call.Args))
	for _, arg := range call.Args {
		w, ok := literal(arg)
		if !ok {
			return sc
		}
		words = append(words, w)
	}
	dynamic := false
	syntax.Walk(stmt, func(n syntax.Node) bool {
		switch n.(type) {
		case *syntax.CmdSubst, *syntax.ProcSubst, *syntax.ParamExp, *syntax.ArithmExp:
			dynamic = true
			return false
		}
		return true
	})
	if dynamic {
		return sc
	}
	sc.Words = words
	sc.Simple = true
	return sc
}

func literal(w *syntax.Word) (string, bool) {
	var sb strings.Builder
	for _, part := range w.Parts {
		switch p := part.(type) {
		case *syntax.Lit:
			sb.WriteString(p.Value)
		case *syntax.SglQuoted:
			if p.Dollar {
				return "", false
			}
			sb.WriteString(p.Value)
		case *syntax.DblQuoted:
			for _, inner := range p.Parts {
				lit, ok := inner.(*syntax.Lit)
				if !ok {
					return "", false
				}
				sb.WriteString(lit.Value)
			}
		default:
			return "", false
		}
	}
	return sb.String(), true
}

func writesFile(r *syntax.Redirect) bool {
	switch r.Op {
	case syntax.RdrOut, syntax.AppOut, syntax.ClbOut, syntax.RdrAll, syntax.AppAll, syntax.RdrInOut:
		if r.Word != nil {
			if target, ok := literal(r.Word); ok && target == "/dev/null" {
				return false
			}
		}
		return true
	}
	return false
}

func printNode(n syntax.Node) string {
	var buf bytes.Buffer
	if err := syntax.NewPrinter(syntax.SingleLine(true)).Print(&buf, n); err != nil {
		return ""
	}
	return strings.TrimSpace(buf.String())
}

// IsSafe reports whether a sub-command only reads state.
func IsSafe(sc SubCommand) bool {
	if !sc.Simple || sc.Redirected {
		return false
	}
	joined := strings.Join(sc.Words, " ")
	for _, safe := range safeCommands {
		if joined == safe || strings.HasPrefix(joined, safe+" ") {
			return true
		}
	}
	return false
}

// ReadOnlyCommand reports whether every sub-command of command is safe.
func ReadOnlyCommand(command string) bool {
	subs, err := SplitCommands(command)
	if err != nil || len(subs) == 0 {
		return false
	}
	for _, sc := range subs {
		if !IsSafe(sc) {
			return false
		}
	}
	return true
}

// Prefix 返回单条简单命令的前缀（如 "git diff"、"ls"）；复合命令或含动态部分时没有前缀。
func Prefix(command string) (string, bool) {
	subs, err := SplitCommands(command)
	if err != nil || len(subs) != 1 || !subs[0].Simple {
		return "", false
	}
	words := subs[0].Words
	prefix := words[0]
	if _, ok := subcommandTools[prefix]; ok && len(words) > 1 && !strings.HasPrefix(words[1], "-") {
		prefix += " " + words[1]
	}
	return prefix, true
}

func ExactRule(tool, command string) string {
	return fmt.Sprintf("%s(%s)", tool, strings.TrimSpace(command))
}

func PrefixRule(tool, prefix string) string {
	return fmt.Sprintf("%s(%s:*)", tool, prefix)
}

// parsePrefixRule extracts the prefix from "Tool(prefix:*)".
func parsePrefixRule(tool, rule string) (string, bool) {
	if !strings.HasPrefix(rule, tool+"(") || !strings.HasSuffix(rule, ":*)") {
		return "", false
	}
	return strings.TrimSuffix(strings.TrimPrefix(rule, tool+"("), ":*)"), true
}
