package playlist

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Quality is a discretized rendition tier derived from vertical resolution.
type Quality string

const (
	QualityAuto Quality = "auto"
	QualityFHD  Quality = "fhd"
	QualityHD   Quality = "hd"
	QualitySD   Quality = "sd"
	QualityLD   Quality = "ld"
)

// Variant is one rendition extracted from a master manifest.
type Variant struct {
	URI       string `json:"url"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Bandwidth int    `json:"bandwidth"`
}

// Master is the result of parsing a manifest that may or may not be a master
// playlist. A non-master source is a single-quality stream, not an error.
type Master struct {
	IsMaster bool                `json:"isMasterPlaylist"`
	Message  string              `json:"message"`
	Variants map[Quality]Variant `json:"variants"`
}

// URLs flattens the variants to a quality -> URI map.
func (m Master) URLs() map[Quality]string {
	out := make(map[Quality]string, len(m.Variants))
	for q, v := range m.Variants {
		out[q] = v.URI
	}
	return out
}

var (
	resolutionRe = regexp.MustCompile(`RESOLUTION=(\d+)x(\d+)`)
	bandwidthRe  = regexp.MustCompile(`BANDWIDTH=(\d+)`)
)

// ParseMaster scans manifest text for #EXT-X-STREAM-INF descriptors and
// buckets each variant by height: >=1080 fhd, >=720 hd, >=480 sd, >=360 ld,
// otherwise auto. When two descriptors land in the same bucket the one with
// the higher bandwidth wins. Relative variant URIs are resolved against
// baseURI. A descriptor with no following URI line is skipped.
func ParseMaster(text, baseURI string) Master {
	if !strings.Contains(text, "#EXT-X-STREAM-INF") {
		return Master{
			IsMaster: false,
			Message:  "not a master playlist, single quality stream",
			Variants: map[Quality]Variant{},
		}
	}

	lines := strings.Split(text, "\n")
	variants := map[Quality]Variant{}
	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "#EXT-X-STREAM-INF:") {
			continue
		}
		res := resolutionRe.FindStringSubmatch(line)
		if res == nil {
			continue
		}
		uri := nextURILine(lines, i+1)
		if uri == "" {
			continue
		}
		width, _ := strconv.Atoi(res[1])
		height, _ := strconv.Atoi(res[2])
		bandwidth := 0
		if bw := bandwidthRe.FindStringSubmatch(line); bw != nil {
			bandwidth, _ = strconv.Atoi(bw[1])
		}
		v := Variant{
			URI:       resolveURI(uri, baseURI),
			Width:     width,
			Height:    height,
			Bandwidth: bandwidth,
		}
		q := bucketForHeight(height)
		if cur, ok := variants[q]; !ok || cur.Bandwidth < v.Bandwidth {
			variants[q] = v
		}
	}

	if len(variants) == 0 {
		return Master{
			IsMaster: true,
			Message:  "no quality variants found in playlist",
			Variants: variants,
		}
	}
	return Master{
		IsMaster: true,
		Message:  "extracted quality variants",
		Variants: variants,
	}
}

// nextURILine returns the first non-blank, non-comment line at or after start.
func nextURILine(lines []string, start int) string {
	for i := start; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return line
	}
	return ""
}

func bucketForHeight(height int) Quality {
	switch {
	case height >= 1080:
		return QualityFHD
	case height >= 720:
		return QualityHD
	case height >= 480:
		return QualitySD
	case height >= 360:
		return QualityLD
	default:
		return QualityAuto
	}
}

func resolveURI(uri, baseURI string) string {
	if strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://") {
		return uri
	}
	base, err := url.Parse(baseURI)
	if err != nil {
		return uri
	}
	ref, err := url.Parse(uri)
	if err != nil {
		return uri
	}
	return base.ResolveReference(ref).String()
}

const (
	fetchTimeout  = 10 * time.Second
	fetchMaxBytes = 2 << 20
)

// FetchMaster downloads manifest text from manifestURL and parses it. The
// fetch is bounded in time and size; any failure is reported to the caller,
// who falls back to treating the source as single quality.
func FetchMaster(ctx context.Context, client *http.Client, manifestURL string) (Master, error) {
	if client == nil {
		client = &http.Client{Timeout: fetchTimeout}
	}
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
	if err != nil {
		return Master{}, fmt.Errorf("manifest request: %w", err)
	}
	req.Header.Set("User-Agent", "NextTV/1.0")
	resp, err := client.Do(req)
	if err != nil {
		return Master{}, fmt.Errorf("manifest fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Master{}, fmt.Errorf("manifest fetch: HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchMaxBytes))
	if err != nil {
		return Master{}, fmt.Errorf("manifest read: %w", err)
	}
	return ParseMaster(string(body), baseOf(manifestURL)), nil
}

// baseOf strips the final path segment so relative variant URIs resolve
// against the manifest's directory.
func baseOf(manifestURL string) string {
	if i := strings.LastIndex(manifestURL, "/"); i >= 0 {
		return manifestURL[:i+1]
	}
	return manifestURL
}
