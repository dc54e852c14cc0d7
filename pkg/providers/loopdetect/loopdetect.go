// Package loopdetect scans recent tool results for repeated failures and
// produces a corrective hint to inject into the conversation.
package loopdetect

import (
	"strings"

	"ccrouter/pkg/providers"
)

const (
	// window is how many trailing messages are scanned.
	window = 20

	// editThreshold triggers the edit-specific hint.
	editThreshold = 2

	// genericThreshold triggers the generic-error hint.
	genericThreshold = 3
)

// EditLoopHint is injected after repeated identical-string Edit failures.
const EditLoopHint = "IMPORTANT: Your last Edit/Update attempts failed because old_string and new_string were identical. Re-read the file to get its current content, then provide a new_string that is actually different from old_string, or use the Write tool to replace the entire file instead. Do not repeat the same edit."

// GenericLoopHint is injected after repeated tool errors of any kind.
const GenericLoopHint = "IMPORTANT: You appear to be encountering repeated tool errors. Stop retrying the same failing operation. Re-read the relevant files to verify your assumptions, switch to a different non-destructive approach, or clearly tell the user what you attempted and why you cannot proceed."

var editFailureMarkers = []string{
	"old_string and new_string are exactly the same",
	"No changes to make",
}

var genericErrorMarkers = []string{
	"Error:",
	"Error ",
	"error:",
	"ENOENT",
	"EACCES",
	"EPERM",
	"failed",
	"FAILED",
	"not found",
	"Permission denied",
	"Operation not permitted",
}

// Detect scans the last messages for repeated tool failures. It returns the
// hint to inject, or "" when the conversation looks healthy. The
// edit-same-content pattern is checked before the generic one.
func Detect(messages []providers.UnifiedMessage) string {
	start := 0
	if len(messages) > window {
		start = len(messages) - window
	}

	editFailures := 0
	genericErrors := 0
	for _, msg := range messages[start:] {
		if msg.Role != "tool" {
			continue
		}
		text := msg.TextContent()
		if text == "" {
			continue
		}

		if containsAny(text, editFailureMarkers) {
			editFailures++
		} else if containsAny(text, genericErrorMarkers) {
			genericErrors++
		}
	}

	if editFailures >= editThreshold {
		return EditLoopHint
	}
	if genericErrors >= genericThreshold {
		return GenericLoopHint
	}
	return ""
}

func containsAny(s string, markers []string) bool {
	for _, marker := range markers {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}
