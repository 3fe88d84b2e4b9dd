package colours

import "github.com/fatih/color"

// Colour scheme for terminal output
var (
	Title   = color.New(color.FgCyan, color.Bold)
	Author  = color.New(color.FgMagenta)
	Prompt  = color.New(color.FgGreen, color.Bold)
	Error   = color.New(color.FgRed, color.Bold)
	Success = color.New(color.FgGreen)
	Info    = color.New(color.FgBlue)
	Warning = color.New(color.FgYellow)

	// Narration output
	Position  = color.New(color.FgHiBlack)
	Paragraph = color.New(color.FgWhite)
	Sleep     = color.New(color.FgHiMagenta)
)
