package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// colorNames maps CSS color keywords to their hex form. Only the keywords
// the drawing tools actually offer plus the common CSS set are listed;
// anything unrecognized normalizes to "none".
var colorNames = map[string]string{
	"black":   "#000000",
	"silver":  "#c0c0c0",
	"gray":    "#808080",
	"grey":    "#808080",
	"white":   "#ffffff",
	"maroon":  "#800000",
	"red":     "#ff0000",
	"purple":  "#800080",
	"fuchsia": "#ff00ff",
	"magenta": "#ff00ff",
	"green":   "#008000",
	"lime":    "#00ff00",
	"olive":   "#808000",
	"yellow":  "#ffff00",
	"navy":    "#000080",
	"blue":    "#0000ff",
	"teal":    "#008080",
	"aqua":    "#00ffff",
	"cyan":    "#00ffff",
	"orange":  "#ffa500",
	"brown":   "#a52a2a",
	"pink":    "#ffc0cb",
	"gold":    "#ffd700",
	"indigo":  "#4b0082",
	"violet":  "#ee82ee",
	"coral":   "#ff7f50",
	"salmon":  "#fa8072",
	"khaki":   "#f0e68c",
	"crimson": "#dc143c",
	"tomato":  "#ff6347",
}

// ColorToHex canonicalizes a CSS color value to lowercase six-digit hex.
// Keywords, shorthand hex and rgb()/rgba() are recognized; everything else
// becomes "none".
func ColorToHex(color string) string {
	if hex, ok := colorNames[strings.ToLower(color)]; ok {
		return hex
	}
	if strings.HasPrefix(color, "#") {
		return strings.ToLower(expandShorthandHex(color))
	}
	if strings.HasPrefix(color, "rgb") {
		return rgbToHex(color)
	}
	return "none"
}

func expandShorthandHex(hex string) string {
	if len(hex) != 4 {
		return hex
	}
	var b strings.Builder
	b.WriteByte('#')
	for _, c := range hex[1:] {
		b.WriteRune(c)
		b.WriteRune(c)
	}
	return b.String()
}

func rgbToHex(color string) string {
	open := strings.Index(color, "(")
	close := strings.Index(color, ")")
	if open < 0 || close < open {
		return "none"
	}
	parts := strings.Split(color[open+1:close], ",")
	if len(parts) < 3 {
		return "none"
	}
	var channels [3]int
	for i := 0; i < 3; i++ {
		n, err := strconv.Atoi(strings.TrimSpace(parts[i]))
		if err != nil || n < 0 || n > 255 {
			return "none"
		}
		channels[i] = n
	}
	return fmt.Sprintf("#%02x%02x%02x", channels[0], channels[1], channels[2])
}

// EscapeText replaces HTML-significant characters in user-supplied text so
// a text element can never inject markup into a rendering client.
func EscapeText(text string) string {
	r := strings.NewReplacer(
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&#039;",
	)
	return r.Replace(text)
}

// Normalize canonicalizes the mutable presentation properties of an element
// in place: colors to hex, text content escaped.
func Normalize(e *Element) {
	if stroke, ok := e.Props["stroke"].(string); ok {
		e.Props["stroke"] = ColorToHex(stroke)
	}
	if fill, ok := e.Props["fill"].(string); ok {
		e.Props["fill"] = ColorToHex(fill)
	}
	if text, ok := e.Props["text"].(string); ok {
		e.Props["text"] = EscapeText(text)
	}
}
