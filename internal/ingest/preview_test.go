package ingest

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestPreview(t *testing.T) {
	tests := []struct {
		name string
		text string
		html string
		want string
	}{
		{"text wins", "  hello\n\n world ", "<p>ignored</p>", "hello world"},
		{"html stripped", "", "<div><b>Hi</b>&nbsp;<i>there</i></div>", "Hi &nbsp; there"},
		{"empty", "", "", ""},
		{"truncated", strings.Repeat("a", 200), "", strings.Repeat("a", 120)},
		{"runes not bytes", strings.Repeat("验", 130), "", strings.Repeat("验", 120)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Preview(tt.text, tt.html))
		})
	}
}

func TestProperty_PreviewBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("preview is collapsed and at most 120 runes", prop.ForAll(
		func(text, html string) bool {
			p := Preview(text, html)
			if utf8.RuneCountInString(p) > PreviewLength {
				return false
			}
			// 截断处可能留下一个尾随空格，开头不会有
			if strings.HasPrefix(p, " ") {
				return false
			}
			return !strings.Contains(p, "  ") && !strings.ContainsAny(p, "\n\t")
		},
		gen.AnyString(),
		gen.AnyString(),
	))

	properties.Property("preview never contains html tags", prop.ForAll(
		func(words []string) bool {
			html := "<div>" + strings.Join(words, "<br/>") + "</div>"
			p := Preview("", html)
			return !strings.Contains(p, "<br/>") && !strings.Contains(p, "<div>")
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
