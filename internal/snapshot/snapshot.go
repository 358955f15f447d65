// Package snapshot captures the rendered chat surface of the target and
// detects when it changes.
package snapshot

import (
	"hash/fnv"
	"strings"
	"sync"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
)

// Snapshot is one capture of the chat surface. It is replaced wholesale on
// every successful capture, never patched.
type Snapshot struct {
	HTML            string `json:"html"`
	ControlsHTML    string `json:"controlsHtml,omitempty"`
	CSS             string `json:"css"`
	BackgroundColor string `json:"backgroundColor"`
	Color           string `json:"color"`
	FontFamily      string `json:"fontFamily"`
	ThemeClass      string `json:"themeClass"`
	ThemeAttr       string `json:"themeAttr"`
	ColorScheme     string `json:"colorScheme"`
	BodyBg          string `json:"bodyBg"`
	BodyColor       string `json:"bodyColor"`
	Error           string `json:"error,omitempty"`

	// Fingerprint identifies HTML for change detection.
	Fingerprint uint32 `json:"fingerprint"`
}

// Fingerprint hashes markup with 32-bit FNV-1a. It is only used to tell
// whether two captures differ; it is not an integrity check.
func Fingerprint(markup string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(markup))
	return h.Sum32()
}

var (
	mdOnce sync.Once
	mdConv *converter.Converter
)

func markdownConverter() *converter.Converter {
	mdOnce.Do(func() {
		mdConv = converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		)
	})
	return mdConv
}

// Markdown renders the captured markup as Markdown for text-only consumers.
func (s *Snapshot) Markdown() (string, error) {
	md, err := markdownConverter().ConvertString(s.HTML)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(md), nil
}

// Meta is the snapshot without its markup.
type Meta struct {
	BackgroundColor string `json:"backgroundColor"`
	Color           string `json:"color"`
	FontFamily      string `json:"fontFamily"`
	ThemeClass      string `json:"themeClass"`
	ThemeAttr       string `json:"themeAttr"`
	ColorScheme     string `json:"colorScheme"`
	Fingerprint     uint32 `json:"fingerprint"`
	HTMLBytes       int    `json:"htmlBytes"`
	CSSBytes        int    `json:"cssBytes"`
}

// Meta summarizes s.
func (s *Snapshot) Meta() Meta {
	return Meta{
		BackgroundColor: s.BackgroundColor,
		Color:           s.Color,
		FontFamily:      s.FontFamily,
		ThemeClass:      s.ThemeClass,
		ThemeAttr:       s.ThemeAttr,
		ColorScheme:     s.ColorScheme,
		Fingerprint:     s.Fingerprint,
		HTMLBytes:       len(s.HTML),
		CSSBytes:        len(s.CSS),
	}
}
