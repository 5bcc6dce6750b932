package bootstrap

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	wasmlauncher "github.com/wippyai/wasm-launcher"
)

// printer writes the launcher's diagnostics. Labels are colored only when
// the stream is a terminal.
type printer struct {
	w         io.Writer
	program   string
	warnStyle lipgloss.Style
	errStyle  lipgloss.Style
}

func newPrinter(w io.Writer, program string) *printer {
	r := lipgloss.NewRenderer(w)
	return &printer{
		w:         w,
		program:   program,
		warnStyle: r.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFB86C")),
		errStyle:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B")),
	}
}

func (p *printer) warning(format string, args ...any) {
	fmt.Fprintf(p.w, "%s: %s %s\n", p.program, p.warnStyle.Render("WARNING:"), fmt.Sprintf(format, args...))
}

func (p *printer) fatal(format string, args ...any) {
	fmt.Fprintf(p.w, "%s: %s %s\n", p.program, p.errStyle.Render("ERROR:"), fmt.Sprintf(format, args...))
}

func (p *printer) localeFailure(err error) {
	p.warning("%v\n"+
		"  Could not set the application locale.\n"+
		"  Although this should be no problem for %s itself, it might\n"+
		"  cause problems with some plugins. To investigate the issue,\n"+
		"  look at the output of the locale(1p) tool.",
		err, p.program)
}

func (p *printer) importFailure(pkg, envPath string) {
	p.fatal("Couldn't import %s and dependencies.\n"+
		"Please check the directory containing %s is on your %s.",
		pkg, pkg, envPath)
}

func (p *printer) versionMismatch(pkg, hosted string, native wasmlauncher.VersionInfo) {
	p.warning("%s version doesn't match the %s program.\n"+
		"  This may indicate an installation problem.\n"+
		"  %s version is %s\n"+
		"  %s version is %s",
		pkg, p.program, pkg, hosted, p.program, native.Triple())
}
