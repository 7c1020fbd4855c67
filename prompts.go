package muralgen

import (
	"fmt"
	"strings"
)

// Device describes the screen a wallpaper is composed for.
type Device struct {
	Name   string `json:"name" yaml:"name"`
	Width  int    `json:"width" yaml:"width"`
	Height int    `json:"height" yaml:"height"`
}

// StylePreferences are the user's standing style choices.
type StylePreferences struct {
	Styles  []string `json:"styles" yaml:"styles"`
	Palette string   `json:"palette" yaml:"palette"`
	Mood    string   `json:"mood" yaml:"mood"`
}

func devicePrompt(device Device, prefs StylePreferences) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write a single concise prompt for an image generation model that produces a wallpaper for %q at %dx%d.",
		device.Name, device.Width, device.Height)
	if len(prefs.Styles) > 0 {
		fmt.Fprintf(&b, " Preferred styles: %s.", strings.Join(prefs.Styles, ", "))
	}
	if prefs.Palette != "" {
		fmt.Fprintf(&b, " Color palette: %s.", prefs.Palette)
	}
	if prefs.Mood != "" {
		fmt.Fprintf(&b, " Mood: %s.", prefs.Mood)
	}
	b.WriteString(" Respond with the prompt only, no commentary.")
	return b.String()
}

func variantPrompt(basePrompt string) string {
	return fmt.Sprintf("Rewrite the following image generation prompt as a fresh variation: keep the subject and composition, change secondary details. Respond with the prompt only.\n\n%s", basePrompt)
}

func restylePrompt(basePrompt, styleDirective string) string {
	return fmt.Sprintf("Rewrite the following image generation prompt in this style: %s. Keep the subject, change the treatment. Respond with the prompt only.\n\n%s", styleDirective, basePrompt)
}
