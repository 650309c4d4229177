// Package toolkit provides built-in tools for autopilot agents.
//
//   - [FetchTool]: retrieves a web page as markdown
//   - [BrowserTool]: drives a browser session, publishing a live view and
//     recording each action as a step of the run
//
// Each tool has a constructor taking an options struct and returns a value
// implementing [autopilot.Tool], ready to be added to an
// [autopilot.ToolRegistry]:
//
//	registry := autopilot.NewToolRegistry(
//	    toolkit.NewFetchTool(toolkit.FetchToolOptions{}),
//	    toolkit.NewBrowserTool(toolkit.BrowserToolOptions{Browser: browser}),
//	)
package toolkit

import (
	"github.com/deepnoodle-ai/autopilot"
)

var (
	// NewToolResultError creates a tool result indicating an error occurred.
	// The error message is returned to the model.
	NewToolResultError = autopilot.NewToolResultError

	// NewToolResultText creates a tool result containing text content.
	NewToolResultText = autopilot.NewToolResultText
)

func truncateText(text string, maxSize int) string {
	runes := []rune(text)
	if len(runes) <= maxSize {
		return text
	}
	return string(runes[:maxSize]) + "..."
}
