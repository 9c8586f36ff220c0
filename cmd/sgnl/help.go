package main

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/metorial/signal/internal/ui"
	"github.com/spf13/cobra"
)

var (
	// Unindented line ending with ":" such as "Resources:" or "Flags:".
	reHelpHeader = regexp.MustCompile(`(?m)^([A-Z][^\n]*:)\s*$`)

	// Two-space indent, a command name, then the description column.
	reHelpCommand = regexp.MustCompile(`(?m)^(  )(\S+)(  )`)

	reHelpFlagType = regexp.MustCompile(`(--?\S+\s+)(string|int|duration|strings|stringArray)\b`)

	reHelpDefault = regexp.MustCompile(`\(default [^)]*\)`)
)

// colorizedHelpFunc renders cobra's usage text and styles it when stdout
// supports color.
func colorizedHelpFunc() func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		if !ui.ShouldUseColor() {
			_ = cmd.Usage()
			return
		}

		var buf bytes.Buffer
		cmd.SetOut(&buf)
		_ = cmd.Usage()
		cmd.SetOut(out)
		fmt.Fprint(out, colorizeHelp(buf.String()))
	}
}

func colorizeHelp(s string) string {
	s = reHelpHeader.ReplaceAllStringFunc(s, func(m string) string {
		return ui.RenderAccent(strings.TrimSpace(m))
	})
	s = reHelpCommand.ReplaceAllStringFunc(s, func(m string) string {
		p := reHelpCommand.FindStringSubmatch(m)
		return p[1] + ui.RenderCommand(p[2]) + p[3]
	})
	s = reHelpFlagType.ReplaceAllStringFunc(s, func(m string) string {
		p := reHelpFlagType.FindStringSubmatch(m)
		return p[1] + ui.RenderMuted(p[2])
	})
	return reHelpDefault.ReplaceAllStringFunc(s, ui.RenderMuted)
}
