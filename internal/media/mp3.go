// ABOUTME: Resolver for direct MP3 links
// ABOUTME: Fetches the file and decodes its frames with go-mp3 to learn the duration
package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/AutoBreezeBeats/breezebeats/internal/playback"
	"github.com/hajimehoshi/go-mp3"
)

// DefaultMP3MaxBytes caps how much of a file is fetched to measure it
const DefaultMP3MaxBytes = 64 << 20

// go-mp3 always decodes to 16-bit stereo
const mp3BytesPerFrame = 4

// MP3Probe resolves URLs whose path ends in .mp3
type MP3Probe struct {
	Client   *http.Client
	MaxBytes int64
}

// NewMP3Probe creates a probe using client (nil = http.DefaultClient)
func NewMP3Probe(client *http.Client) *MP3Probe {
	if client == nil {
		client = http.DefaultClient
	}
	return &MP3Probe{Client: client, MaxBytes: DefaultMP3MaxBytes}
}

func (p *MP3Probe) Name() string { return "mp3" }

// Resolve implements playback.Resolver
func (p *MP3Probe) Resolve(ctx context.Context, rawURL string) (playback.Metadata, error) {
	u, err := url.Parse(rawURL)
	if err != nil || !strings.HasSuffix(strings.ToLower(u.Path), ".mp3") {
		return playback.Metadata{}, ErrUnsupported
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return playback.Metadata{}, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return playback.Metadata{}, fmt.Errorf("failed to fetch mp3: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return playback.Metadata{}, fmt.Errorf("HTTP error: %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, p.MaxBytes))
	if err != nil {
		return playback.Metadata{}, fmt.Errorf("failed to read mp3: %w", err)
	}

	duration, err := mp3Duration(data)
	if err != nil {
		return playback.Metadata{}, err
	}

	return playback.Metadata{
		Title:       titleFromURL(rawURL),
		Duration:    duration,
		PlayableURI: rawURL,
	}, nil
}

// mp3Duration decodes the frame headers of data and returns its length in seconds
func mp3Duration(data []byte) (float64, error) {
	// A seekable source lets the decoder scan every frame up front
	decoder, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("failed to decode mp3: %w", err)
	}

	rate := decoder.SampleRate()
	length := decoder.Length()
	if rate <= 0 || length < 0 {
		return 0, nil
	}
	return float64(length) / mp3BytesPerFrame / float64(rate), nil
}
