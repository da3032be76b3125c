// ABOUTME: yt-dlp backed resolver for video site URLs
// ABOUTME: Runs yt-dlp -J and reads title, duration and the best audio stream
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/AutoBreezeBeats/breezebeats/internal/playback"
)

const DefaultYTDLPFormat = "bestaudio/best"

// YTDLP resolves URLs by shelling out to yt-dlp
type YTDLP struct {
	Path   string
	Format string

	run func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewYTDLP creates a resolver using the yt-dlp binary at path ("" = PATH lookup)
func NewYTDLP(path string) *YTDLP {
	if path == "" {
		path = "yt-dlp"
	}
	return &YTDLP{Path: path, Format: DefaultYTDLPFormat, run: runCommand}
}

func (y *YTDLP) Name() string { return "ytdlp" }

// ytdlpInfo is the subset of yt-dlp's info JSON we use
type ytdlpInfo struct {
	Title            string        `json:"title"`
	Duration         float64       `json:"duration"`
	URL              string        `json:"url"`
	Thumbnail        string        `json:"thumbnail"`
	IsLive           bool          `json:"is_live"`
	RequestedFormats []ytdlpFormat `json:"requested_formats"`
}

type ytdlpFormat struct {
	URL    string `json:"url"`
	ACodec string `json:"acodec"`
}

// Resolve implements playback.Resolver
func (y *YTDLP) Resolve(ctx context.Context, rawURL string) (playback.Metadata, error) {
	out, err := y.run(ctx, y.Path, "-J", "--no-playlist", "--no-warnings", "-f", y.Format, rawURL)
	if err != nil {
		// A missing binary or a URL yt-dlp has no extractor for leaves the
		// URL to the next resolver.
		var execErr *exec.Error
		if errors.As(err, &execErr) || strings.Contains(err.Error(), "Unsupported URL") {
			return playback.Metadata{}, fmt.Errorf("%w: %w", ErrUnsupported, err)
		}
		return playback.Metadata{}, err
	}
	return parseYTDLP(out)
}

func parseYTDLP(out []byte) (playback.Metadata, error) {
	var info ytdlpInfo
	if err := json.Unmarshal(out, &info); err != nil {
		return playback.Metadata{}, fmt.Errorf("failed to parse yt-dlp output: %w", err)
	}

	playable := info.URL
	if playable == "" {
		for _, f := range info.RequestedFormats {
			if f.ACodec != "" && f.ACodec != "none" {
				playable = f.URL
				break
			}
		}
	}
	if playable == "" {
		return playback.Metadata{}, errors.New("yt-dlp returned no playable stream")
	}

	duration := info.Duration
	if info.IsLive {
		duration = 0
	}

	return playback.Metadata{
		Title:       info.Title,
		Duration:    duration,
		PlayableURI: playable,
		Thumbnail:   info.Thumbnail,
	}, nil
}

// runCommand runs a command and returns stdout, folding stderr into the error
func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	if _, err := exec.LookPath(name); err != nil {
		return nil, fmt.Errorf("%s not found in PATH: %w", name, err)
	}

	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s failed: %w: %s", name, err, msg)
		}
		return nil, fmt.Errorf("%s failed: %w", name, err)
	}
	return out, nil
}
