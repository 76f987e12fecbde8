package viewer

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/ahrav/go-verifier/internal/domain"
)

// Palette.
var (
	colorPass    = lipgloss.Color("#2ECC71")
	colorFail    = lipgloss.Color("#E74C3C")
	colorPartial = lipgloss.Color("#F4D03F")
	colorMissing = lipgloss.Color("#3498DB")
	colorBlock   = lipgloss.Color("#20B9B4")
	colorMuted   = lipgloss.Color("#7F8C8D")
)

// styles holds every style the viewer uses. The plain set carries no
// colors or attributes, so output is byte-for-byte stable off a terminal.
type styles struct {
	title   lipgloss.Style
	header  lipgloss.Style
	block   lipgloss.Style
	muted   lipgloss.Style
	cell    lipgloss.Style
	box     lipgloss.Style
	errBox  lipgloss.Style
	verdict map[domain.Verdict]lipgloss.Style
	enabled lipgloss.Style
	disable lipgloss.Style
}

func newStyles(color bool) styles {
	cell := lipgloss.NewStyle().Padding(0, 1)
	if !color {
		plain := lipgloss.NewStyle()
		return styles{
			title:   plain,
			header:  cell,
			block:   cell,
			muted:   plain,
			cell:    cell,
			box:     plain.Border(lipgloss.NormalBorder()).Padding(0, 1),
			errBox:  plain.Border(lipgloss.NormalBorder()).Padding(0, 1),
			verdict: map[domain.Verdict]lipgloss.Style{},
			enabled: plain,
			disable: plain,
		}
	}
	return styles{
		title:  lipgloss.NewStyle().Bold(true).Foreground(colorPass),
		header: cell.Bold(true),
		block:  cell.Foreground(colorBlock),
		muted:  lipgloss.NewStyle().Foreground(colorMuted),
		cell:   cell,
		box: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBlock).
			Padding(0, 1),
		errBox: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorFail).
			Padding(0, 1),
		verdict: map[domain.Verdict]lipgloss.Style{
			domain.VerdictSupported:    lipgloss.NewStyle().Foreground(colorPass),
			domain.VerdictContradicted: lipgloss.NewStyle().Foreground(colorFail),
			domain.VerdictPartial:      lipgloss.NewStyle().Foreground(colorPartial),
			domain.VerdictNotFound:     lipgloss.NewStyle().Foreground(colorMissing),
		},
		enabled: lipgloss.NewStyle().Foreground(colorPass),
		disable: lipgloss.NewStyle().Foreground(colorFail),
	}
}

// verdictStyle returns the style for v, falling back to s.cell.
func (s styles) verdictStyle(v domain.Verdict) lipgloss.Style {
	if st, ok := s.verdict[v]; ok {
		return s.cell.Inherit(st)
	}
	return s.cell
}

// IsTerminal reports whether w is a terminal, which is when the viewer
// uses color.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
