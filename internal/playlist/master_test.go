package playlist

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMaster = `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=5000000,RESOLUTION=1920x1080
http://cdn.example.com/fhd/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=2500000,RESOLUTION=1280x720
720p/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=1200000,RESOLUTION=854x480
480p/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=600000,RESOLUTION=640x360
360p/index.m3u8
`

func TestParseMasterBuckets(t *testing.T) {
	m := ParseMaster(sampleMaster, "http://cdn.example.com/live/")
	require.True(t, m.IsMaster)
	require.Len(t, m.Variants, 4)

	assert.Equal(t, "http://cdn.example.com/fhd/index.m3u8", m.Variants[QualityFHD].URI)
	assert.Equal(t, "http://cdn.example.com/live/720p/index.m3u8", m.Variants[QualityHD].URI)
	assert.Equal(t, "http://cdn.example.com/live/480p/index.m3u8", m.Variants[QualitySD].URI)
	assert.Equal(t, "http://cdn.example.com/live/360p/index.m3u8", m.Variants[QualityLD].URI)
	assert.Equal(t, 1920, m.Variants[QualityFHD].Width)
	assert.Equal(t, 1080, m.Variants[QualityFHD].Height)
}

func TestParseMasterSameBucketKeepsHigherBandwidth(t *testing.T) {
	text := `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=3000000,RESOLUTION=1920x1080
low.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=5000000,RESOLUTION=1920x1080
high.m3u8
`
	m := ParseMaster(text, "http://cdn/")
	require.True(t, m.IsMaster)
	require.Len(t, m.Variants, 1)
	assert.Equal(t, "http://cdn/high.m3u8", m.Variants[QualityFHD].URI)
	assert.Equal(t, 5000000, m.Variants[QualityFHD].Bandwidth)

	// Same result regardless of descriptor order.
	reversed := `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=5000000,RESOLUTION=1920x1080
high.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=3000000,RESOLUTION=1920x1080
low.m3u8
`
	m = ParseMaster(reversed, "http://cdn/")
	assert.Equal(t, "http://cdn/high.m3u8", m.Variants[QualityFHD].URI)
}

func TestParseMasterNotMaster(t *testing.T) {
	text := `#EXTM3U
#EXT-X-TARGETDURATION:6
#EXTINF:6.0,
segment0.ts
`
	m := ParseMaster(text, "http://cdn/")
	assert.False(t, m.IsMaster)
	assert.Empty(t, m.Variants)
}

func TestParseMasterNoResolution(t *testing.T) {
	text := `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=64000,CODECS="mp4a.40.2"
audio.m3u8
`
	m := ParseMaster(text, "http://cdn/")
	assert.True(t, m.IsMaster)
	assert.Empty(t, m.Variants)
	assert.NotEmpty(t, m.Message)
}

func TestParseMasterDescriptorAtEOF(t *testing.T) {
	text := `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=5000000,RESOLUTION=1920x1080
fhd.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=2500000,RESOLUTION=1280x720
`
	m := ParseMaster(text, "http://cdn/")
	require.True(t, m.IsMaster)
	require.Len(t, m.Variants, 1)
	assert.Contains(t, m.Variants, QualityFHD)
}

func TestParseMasterSkipsCommentsBeforeURI(t *testing.T) {
	text := `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=5000000,RESOLUTION=1920x1080
# some comment
fhd.m3u8
`
	m := ParseMaster(text, "http://cdn/")
	require.Len(t, m.Variants, 1)
	assert.Equal(t, "http://cdn/fhd.m3u8", m.Variants[QualityFHD].URI)
}

func TestParseMasterTinyHeightIsAuto(t *testing.T) {
	text := `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=200000,RESOLUTION=320x240
tiny.m3u8
`
	m := ParseMaster(text, "http://cdn/")
	require.Len(t, m.Variants, 1)
	assert.Contains(t, m.Variants, QualityAuto)
}

func TestFetchMaster(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(sampleMaster))
	}))
	defer srv.Close()

	m, err := FetchMaster(context.Background(), srv.Client(), srv.URL+"/live/index.m3u8")
	require.NoError(t, err)
	assert.True(t, m.IsMaster)
	assert.Equal(t, srv.URL+"/live/720p/index.m3u8", m.Variants[QualityHD].URI)
}

func TestFetchMasterBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := FetchMaster(context.Background(), srv.Client(), srv.URL+"/index.m3u8")
	assert.Error(t, err)
}

func TestParseM3UImport(t *testing.T) {
	text := `#EXTM3U
#EXTINF:-1 tvg-id="bbc1.uk" tvg-name="BBC One" tvg-logo="http://logo/bbc1.png" group-title="News",BBC One
http://stream/bbc1.m3u8

#EXTINF:-1,Plain Channel
http://stream/plain.m3u8

#EXTINF:-1 tvg-name="No URL Channel" group-title="News"
`
	entries := ParseM3U(text)
	require.Len(t, entries, 2)

	assert.Equal(t, "BBC One", entries[0].Name)
	assert.Equal(t, "News", entries[0].Category)
	assert.Equal(t, "bbc1.uk", entries[0].EpgID)
	assert.Equal(t, "http://logo/bbc1.png", entries[0].LogoURL)
	assert.Equal(t, "http://stream/bbc1.m3u8", entries[0].URL)

	assert.Equal(t, "Plain Channel", entries[1].Name)
	assert.Equal(t, "Uncategorized", entries[1].Category)
}
