package memory

import (
	"fmt"
	"log"
	"strings"
	"text/template"
	"time"

	"github.com/loreleaf/tierbot/internal/persona"
)

// PromptAssembler renders the completion prompt from a tier snapshot plus
// the persona templates. Section order is fixed; empty sections are
// dropped; the live user input is always the final section.
type PromptAssembler struct {
	user *persona.Persona
	char *persona.Persona

	now func() time.Time
}

func NewPromptAssembler(user, char *persona.Persona) *PromptAssembler {
	return &PromptAssembler{user: user, char: char, now: time.Now}
}

// TimeFields is the clock view handed to persona templates, once for "now"
// and once for the last assistant reply.
type TimeFields struct {
	Weekday string
	Date    string
	Hour    int
	Minute  int
}

type promptData struct {
	User    *persona.Persona
	Char    *persona.Persona
	Now     TimeFields
	Last    TimeFields
	Elapsed int64
}

func timeFields(t time.Time) TimeFields {
	return TimeFields{
		Weekday: t.Weekday().String(),
		Date:    t.Format("2006-01-02"),
		Hour:    t.Hour(),
		Minute:  t.Minute(),
	}
}

// Assemble builds the prompt text. lastReply may be zero on a fresh
// session; elapsed is then reported as 0.
func (a *PromptAssembler) Assemble(snap Snapshot, lastReply time.Time, userInput string) string {
	now := a.now()
	data := promptData{
		User: a.user,
		Char: a.char,
		Now:  timeFields(now),
	}
	if !lastReply.IsZero() {
		data.Last = timeFields(lastReply)
		data.Elapsed = int64(now.Sub(lastReply).Seconds())
	}

	var sections []string
	add := func(s string) {
		if strings.TrimSpace(s) != "" {
			sections = append(sections, strings.TrimSpace(s))
		}
	}

	add(a.renderTemplate("jailbreak", a.char.Templates.Jailbreak, data))
	add(tierSection(megaLines(snap.Tier2), snap.Tier2Entities))
	add(tierSection(midLines(snap.Tier1), snap.Tier1Entities))
	add(tierSection(turnLines(snap.Tier0), snap.Tier0Entities))
	add(a.renderTemplate("userContext", a.char.Templates.UserContext, data))
	sections = append(sections, userInput)

	return strings.Join(sections, "\n\n")
}

// renderTemplate returns "" on any parse or execute error; a broken persona
// card must never block prompt assembly.
func (a *PromptAssembler) renderTemplate(name, text string, data promptData) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	tmpl, err := template.New(name).Parse(text)
	if err != nil {
		log.Printf("[prompt] %s template parse failed, section omitted: %v", name, err)
		return ""
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		log.Printf("[prompt] %s template render failed, section omitted: %v", name, err)
		return ""
	}
	return sb.String()
}

func megaLines(mega *MegaSummary) []string {
	if mega == nil || strings.TrimSpace(mega.Text) == "" {
		return nil
	}
	return []string{mega.Text}
}

func midLines(mids []MidSummary) []string {
	lines := make([]string, 0, len(mids))
	for _, m := range mids {
		lines = append(lines, fmt.Sprintf("%s: %s", m.Speaker, m.Text))
	}
	return lines
}

func turnLines(turns []Turn) []string {
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		lines = append(lines, fmt.Sprintf("%s: %s", t.Speaker, t.CompressedText))
	}
	return lines
}

// tierSection joins the tier's lines and appends one comma-separated entity
// line, deduplicated case-insensitively. Empty tiers produce no section at
// all, entities included.
func tierSection(lines, entities []string) string {
	if len(lines) == 0 {
		return ""
	}
	out := strings.Join(lines, "\n")
	if line := entityLine(entities); line != "" {
		out += "\n" + line
	}
	return out
}

func entityLine(entities []string) string {
	seen := make(map[string]bool)
	var kept []string
	for _, e := range entities {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		key := strings.ToLower(e)
		if seen[key] {
			continue
		}
		seen[key] = true
		kept = append(kept, e)
	}
	if len(kept) == 0 {
		return ""
	}
	return strings.Join(kept, ", ")
}
