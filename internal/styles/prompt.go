package styles

import (
	"fmt"
	"strings"

	"styler/internal/generation"
)

// Prompt builds the instruction text sent alongside the source image.
// The target size is only a hint; image models do not take it as a parameter.
func Prompt(style generation.StyleSpec, size int) string {
	var b strings.Builder
	b.WriteString("Task: Transform the provided user image according to the following artistic style. ")
	b.WriteString("Preserve the subject's identity, pose, and core composition as much as possible, unless the style dictates otherwise.")
	fmt.Fprintf(&b, "\n\nStyle: %q", style.Prompt)
	if style.NegativePrompt != "" {
		fmt.Fprintf(&b, "\n\nThings to strictly avoid: %s.", style.NegativePrompt)
	}
	if size > 0 {
		fmt.Fprintf(&b, "\n\nOutput a square image of about %dx%d pixels.", size, size)
	}
	return b.String()
}
