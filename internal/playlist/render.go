package playlist

import (
	"fmt"
	"strings"
	"time"

	"nexttv/internal/token"
)

// Channel is the catalog view the renderer needs. Callers supply channels
// already sorted by (category, order, name); the renderer keeps that order.
type Channel struct {
	ID       string
	Name     string
	Category string
	LogoURL  string
	EpgID    string
}

// Renderer emits extended M3U playlists of protected stream URLs.
type Renderer struct {
	codec *token.Codec
	ttl   time.Duration
}

// NewRenderer builds a renderer issuing per-channel tokens with the given TTL.
func NewRenderer(codec *token.Codec, ttl time.Duration) *Renderer {
	return &Renderer{codec: codec, ttl: ttl}
}

// Render produces the playlist text. Each entry is a #EXTINF metadata line
// followed by the tokenized stream URL, with a blank line between entries.
// Output is deterministic for identical input apart from the tokens.
func (r *Renderer) Render(channels []Channel, baseURL, title, viewerID string) (string, error) {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#PLAYLIST:" + title + "\n\n")

	base := strings.TrimRight(baseURL, "/")
	for _, ch := range channels {
		streamURL := fmt.Sprintf("%s/api/stream/channel/%s", base, ch.ID)
		protected, err := r.codec.ProtectedURL(streamURL, token.ContentRef{Kind: token.KindChannel, ID: ch.ID}, viewerID, r.ttl)
		if err != nil {
			return "", fmt.Errorf("render %s: %w", ch.ID, err)
		}
		fmt.Fprintf(&b, "#EXTINF:-1 tvg-id=%q tvg-name=%q tvg-logo=%q group-title=%q,%s\n",
			ch.EpgID, ch.Name, ch.LogoURL, ch.Category, ch.Name)
		b.WriteString(protected)
		b.WriteString("\n\n")
	}
	return b.String(), nil
}
