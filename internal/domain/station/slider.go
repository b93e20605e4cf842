// ABOUTME: Slider records: ordered promotional banners shown next to the station list
// ABOUTME: Each links an image to an external page
package station

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidSlider = errors.New("invalid slider")

type Slider struct {
	ID       string `json:"id" yaml:"id" toml:"id"`
	ImageURL string `json:"image_url" yaml:"image_url" toml:"image_url"`
	Alt      string `json:"alt" yaml:"alt" toml:"alt"`
	LinkURL  string `json:"link_url" yaml:"link_url" toml:"link_url"`
	Order    int    `json:"order" yaml:"order" toml:"order"`
	// ImageHint describes the image for search and accessibility tools.
	ImageHint string `json:"image_hint,omitempty" yaml:"image_hint" toml:"image_hint"`
}

func (s *Slider) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: nil slider", ErrInvalidSlider)
	}
	if !isAbsoluteHTTP(s.ImageURL) {
		return fmt.Errorf("%w: %s: image url %q is not an absolute http(s) url", ErrInvalidSlider, s.ID, s.ImageURL)
	}
	if !isAbsoluteHTTP(s.LinkURL) {
		return fmt.Errorf("%w: %s: link url %q is not an absolute http(s) url", ErrInvalidSlider, s.ID, s.LinkURL)
	}
	if strings.TrimSpace(s.Alt) == "" {
		return fmt.Errorf("%w: %s: missing alt text", ErrInvalidSlider, s.ID)
	}
	if s.Order < 0 {
		return fmt.Errorf("%w: %s: negative order", ErrInvalidSlider, s.ID)
	}
	return nil
}
