package output

import "github.com/charmbracelet/lipgloss"

// Palette used by the operator views
var (
	colorDim     = lipgloss.Color("8")
	colorHeader  = lipgloss.Color("15")
	colorSource  = lipgloss.Color("12")
	colorDist    = lipgloss.Color("13")
	colorSuccess = lipgloss.Color("10")
	colorWarn    = lipgloss.Color("11")
	colorError   = lipgloss.Color("9")
)
