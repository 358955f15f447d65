package discovery

import (
	"sort"
	"strings"
)

type exclusion struct {
	reason string
	match  func(t Target, title, url string) bool
}

// exclusions are checked in order; the first match names the reason.
var exclusions = []exclusion{
	{"self", func(t Target, _, _ string) bool {
		return t.Title == "Antigravity Link" || t.Title == "Antigravity-Link"
	}},
	{"devtools", func(_ Target, title, url string) bool {
		return strings.Contains(title, "devtools") || strings.Contains(url, "devtools")
	}},
	{"webview", func(_ Target, title, url string) bool {
		return strings.Contains(title, "vscode-webview") || strings.Contains(url, "vscode-webview")
	}},
	{"service_worker", func(t Target, _, _ string) bool {
		return t.Type == "service_worker"
	}},
	{"launchpad", func(_ Target, title, _ string) bool {
		return strings.Contains(title, "launchpad")
	}},
	{"blank_title", func(t Target, title, _ string) bool {
		return strings.TrimSpace(t.Title) == "" || strings.HasPrefix(title, "instance :")
	}},
	{"not_application", func(_ Target, title, url string) bool {
		return !strings.Contains(title, "antigravity") &&
			!strings.Contains(url, "workbench") &&
			!strings.Contains(url, "jetski")
	}},
}

// Excluded reports whether a raw target is filtered out, and why.
func Excluded(t Target) (string, bool) {
	title := strings.ToLower(t.Title)
	url := strings.ToLower(t.URL)
	for _, e := range exclusions {
		if e.match(t, title, url) {
			return e.reason, true
		}
	}
	return "", false
}

type weight struct {
	match func(title, url string) bool
	delta int
}

// weights ranks candidates by title and page URL. Ranking only; nothing is
// filtered here.
var weights = []weight{
	{func(_, url string) bool { return strings.Contains(url, "workbench") || strings.Contains(url, "jetski") }, 6},
	{func(title, _ string) bool { return strings.Contains(title, "antigravity-link") }, 6},
	{func(title, _ string) bool { return strings.Contains(title, "launchpad") }, 2},
	{func(title, _ string) bool { return strings.Contains(title, "antigravity") }, 2},
	{func(title, _ string) bool { return strings.Contains(title, "auth.ts") }, -6},
	{func(title, _ string) bool { return strings.Contains(title, "qr") }, -6},
	{func(title, url string) bool {
		return strings.Contains(url, "devtools") || strings.Contains(title, "visual studio code")
	}, -8},
	{func(title, _ string) bool { return strings.Contains(title, "vscode-webview") }, -8},
}

// Score folds the weight table over a candidate.
func Score(c Candidate) int {
	title := strings.ToLower(c.Title)
	url := strings.ToLower(c.PageURL)
	score := 0
	for _, w := range weights {
		if w.match(title, url) {
			score += w.delta
		}
	}
	return score
}

// Rank returns a copy sorted by descending score. Ties keep discovery order.
func Rank(cands []Candidate) []Candidate {
	out := append([]Candidate(nil), cands...)
	sort.SliceStable(out, func(i, j int) bool {
		return Score(out[i]) > Score(out[j])
	})
	return out
}

// IsWorkbenchTarget reports whether the candidate looks like part of the app.
func IsWorkbenchTarget(c Candidate) bool {
	title := strings.ToLower(c.Title)
	url := strings.ToLower(c.PageURL)
	return strings.Contains(url, "workbench") ||
		strings.Contains(url, "jetski") ||
		strings.Contains(title, "antigravity") ||
		strings.Contains(title, "launchpad")
}

// IsChatTarget is stricter than inclusion: pairing, devtools, webview and
// auth surfaces are never chat targets.
func IsChatTarget(c Candidate) bool {
	title := strings.ToLower(c.Title)
	url := strings.ToLower(c.PageURL)
	switch {
	case strings.Contains(title, "qr"),
		strings.Contains(title, "devtools"), strings.Contains(url, "devtools"),
		strings.Contains(title, "vscode-webview"),
		strings.Contains(title, "auth.ts"):
		return false
	}
	return IsWorkbenchTarget(c)
}

// Choose picks the target to connect to first. A preferred id naming a live
// candidate wins outright. Otherwise the best chat target wins, and when no
// candidate qualifies as chat the best-scored candidate overall is used.
func Choose(cands []Candidate, preferredID string) (Candidate, bool) {
	if len(cands) == 0 {
		return Candidate{}, false
	}
	if preferredID != "" {
		for _, c := range cands {
			if c.ID == preferredID {
				return c, true
			}
		}
	}
	for _, c := range Rank(cands) {
		if IsChatTarget(c) {
			return c, true
		}
	}
	return Rank(cands)[0], true
}

// Attempts orders candidates for connection: chosen first, then the rest by
// score.
func Attempts(cands []Candidate, chosen Candidate) []Candidate {
	out := []Candidate{chosen}
	for _, c := range Rank(cands) {
		if c.ID != chosen.ID {
			out = append(out, c)
		}
	}
	return out
}

// Scored is a candidate annotated with its ranking inputs.
type Scored struct {
	Candidate
	Score int  `json:"score"`
	Chat  bool `json:"chat"`
}

// Annotate scores candidates in rank order.
func Annotate(cands []Candidate) []Scored {
	ranked := Rank(cands)
	out := make([]Scored, len(ranked))
	for i, c := range ranked {
		out[i] = Scored{Candidate: c, Score: Score(c), Chat: IsChatTarget(c)}
	}
	return out
}
