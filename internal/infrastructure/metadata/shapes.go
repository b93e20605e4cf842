// ABOUTME: Extracts the current song from the JSON shapes radio servers publish
// ABOUTME: AzuraCast, Shoutcast, Icecast and plain title documents are recognised in a fixed order
package metadata

import (
	"strings"

	"github.com/harper/radiod/internal/domain"
)

// Lookup walks a dotted path through nested JSON objects.
func Lookup(data any, path string) any {
	cur := data
	for _, key := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = obj[key]
		if !ok {
			return nil
		}
	}
	return cur
}

func lookupString(data any, path string) string {
	s, _ := Lookup(data, path).(string)
	return strings.TrimSpace(s)
}

// ExtractTrack returns the first non-blank title among the known shapes.
// The zero Track means no shape matched.
func ExtractTrack(data any) domain.Track {
	// AzuraCast
	if title := lookupString(data, "now_playing.song.text"); title != "" {
		return domain.Track{Title: title, ArtworkURL: lookupString(data, "now_playing.song.art")}
	}

	for _, path := range []string{"song", "songtitle", "icestats.source.title"} {
		if title := lookupString(data, path); title != "" {
			return domain.Track{Title: title}
		}
	}

	// Icecast with several mounts
	if sources, ok := Lookup(data, "icestats.source").([]any); ok {
		for _, src := range sources {
			if title := lookupString(src, "title"); title != "" {
				return domain.Track{Title: title}
			}
		}
	}

	if title := lookupString(data, "title"); title != "" {
		return domain.Track{Title: title, ArtworkURL: lookupString(data, "image_url")}
	}

	return domain.Track{}
}
