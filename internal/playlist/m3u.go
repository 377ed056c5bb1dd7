package playlist

import (
	"regexp"
	"strings"
)

// Entry is one channel parsed from an imported M3U playlist.
type Entry struct {
	Name     string
	Category string
	LogoURL  string
	EpgID    string
	URL      string
}

var extinfAttrRe = regexp.MustCompile(`([a-zA-Z0-9-]+)="([^"]*)"`)

// ParseM3U extracts channel entries from playlist text for bulk import.
// Each #EXTINF line is paired with the next non-blank, non-comment line as
// the stream URL; entries without a URL are dropped.
func ParseM3U(text string) []Entry {
	lines := strings.Split(text, "\n")
	var entries []Entry
	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "#EXTINF") {
			continue
		}
		uri := nextURILine(lines, i+1)
		if uri == "" {
			continue
		}
		e := Entry{URL: uri}
		for _, m := range extinfAttrRe.FindAllStringSubmatch(line, -1) {
			switch m[1] {
			case "tvg-id":
				e.EpgID = m[2]
			case "tvg-name":
				e.Name = m[2]
			case "tvg-logo":
				e.LogoURL = m[2]
			case "group-title":
				e.Category = m[2]
			}
		}
		if comma := strings.LastIndex(line, ","); comma >= 0 {
			if name := strings.TrimSpace(line[comma+1:]); name != "" {
				e.Name = name
			}
		}
		if e.Name == "" {
			continue
		}
		if e.Category == "" {
			e.Category = "Uncategorized"
		}
		entries = append(entries, e)
	}
	return entries
}
