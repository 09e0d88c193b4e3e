// Package agent runs the conversational tool-calling loop that turns
// chat instructions into project mutations.
package agent

import (
	"github.com/R1cK-ChaN/hersite/internal/project"
)

// SiteContext is the snapshot of the user's site interpolated into the
// system prompt. It is rebuilt from the sandbox every turn so the model
// always sees current state.
type SiteContext struct {
	SiteName       string
	Pages          []string
	Files          []string
	ThemeVariables map[string]string
}

// BuildSiteContext reads the user's project state. A user without a
// project gets a default context rather than an error; the model is
// told what exists, even when that is nothing.
func BuildSiteContext(projects *project.Registry, userID string) SiteContext {
	sc := SiteContext{
		SiteName:       "My Site",
		ThemeVariables: map[string]string{},
	}

	p, sb, ok := projects.Get(userID)
	if !ok {
		return sc
	}
	if p.Name != "" {
		sc.SiteName = p.Name
	}

	if files, err := sb.ListFiles(); err == nil {
		sc.Files = files
	}
	if pages, err := sb.Pages(); err == nil {
		sc.Pages = pages
	}
	sc.ThemeVariables = sb.ThemeVariables()
	return sc
}
