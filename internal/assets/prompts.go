// Package assets provides embedded static assets for the application.
//
// Prompt templates are stored as text files under prompts/ and embedded at compile time.
// Their wording is a contract with the extraction model; change them together
// with the parsing rules in internal/handparse.
package assets

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"text/template"
)

// Profile selects the broadcast-specific extraction prompt.
type Profile string

// Supported broadcast profiles.
const (
	ProfileEPT    Profile = "ept"
	ProfileTriton Profile = "triton"
	ProfileWSOP   Profile = "wsop"
)

// Profiles lists every supported profile.
var Profiles = []Profile{ProfileEPT, ProfileTriton, ProfileWSOP}

// ParseProfile validates a profile tag, case-insensitively.
func ParseProfile(s string) (Profile, error) {
	p := Profile(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Profiles {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown platform %q (want one of ept, triton, wsop)", s)
}

// --- Static prompts (no dynamic data) ---

// EPTPrompt extracts hands from European Poker Tour broadcasts.
//
//go:embed prompts/ept.txt
var EPTPrompt string

// TritonPrompt extracts hands from Triton and other high-stakes broadcasts
// using big-blind-ante stakes. WSOP broadcasts share it.
//
//go:embed prompts/triton.txt
var TritonPrompt string

// --- Dynamic prompt templates ---

//go:embed prompts/window.txt
var windowTemplate string

//go:embed prompts/players.txt
var playersTemplate string

var (
	windowTmpl  = template.Must(template.New("window").Parse(windowTemplate))
	playersTmpl = template.Must(template.New("players").Parse(playersTemplate))
)

// Prompt returns the base prompt for a profile. Unknown profiles fall back
// to the EPT prompt.
func (p Profile) Prompt() string {
	switch p {
	case ProfileTriton, ProfileWSOP:
		return TritonPrompt
	default:
		return EPTPrompt
	}
}

// PromptData holds the dynamic data injected into prompt templates.
type PromptData struct {
	// Start and End bound the window, formatted M:SS.
	Start, End string
	// Players are expected participant names.
	Players []string
}

// RenderWindowClause renders the clause restricting extraction to
// [start, end) seconds of the supplied video.
func RenderWindowClause(start, end float64) string {
	return renderTemplate(windowTmpl, PromptData{Start: formatClock(start), End: formatClock(end)})
}

// RenderPlayersClause renders the participant hint list. It returns "" when
// no names are given.
func RenderPlayersClause(players []string) string {
	var names []string
	for _, p := range players {
		if p = strings.TrimSpace(p); p != "" {
			names = append(names, p)
		}
	}
	if len(names) == 0 {
		return ""
	}
	return renderTemplate(playersTmpl, PromptData{Players: names})
}

// renderTemplate executes a pre-parsed template.
func renderTemplate(tmpl *template.Template, data PromptData) string {
	var buf bytes.Buffer
	// Execution only fails on malformed templates, which template.Must rules out.
	_ = tmpl.Execute(&buf, data)
	return buf.String()
}

// formatClock renders seconds as M:SS, the way the model reports offsets.
func formatClock(seconds float64) string {
	total := int64(seconds)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
