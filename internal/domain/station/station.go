// ABOUTME: Station domain model shared by the catalog, player and metadata resolver
// ABOUTME: Validates stream addresses and provides lookup helpers over station lists
package station

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var ErrInvalidStation = errors.New("invalid station")

type Station struct {
	ID          string   `json:"id" yaml:"id" toml:"id"`
	Name        string   `json:"name" yaml:"name" toml:"name"`
	StreamURL   string   `json:"stream_url" yaml:"stream_url" toml:"stream_url"`
	LogoURL     string   `json:"logo_url,omitempty" yaml:"logo_url" toml:"logo_url"`
	MetadataURL string   `json:"metadata_url,omitempty" yaml:"metadata_url" toml:"metadata_url"`
	Order       int      `json:"order" yaml:"order" toml:"order"`
	Country     string   `json:"country,omitempty" yaml:"country" toml:"country"`
	CountryCode string   `json:"country_code,omitempty" yaml:"country_code" toml:"country_code"`
	State       string   `json:"state,omitempty" yaml:"state" toml:"state"`
	StateCode   string   `json:"state_code,omitempty" yaml:"state_code" toml:"state_code"`
	City        string   `json:"city,omitempty" yaml:"city" toml:"city"`
	Tags        []string `json:"tags,omitempty" yaml:"tags" toml:"tags"`

	WhatsappURL  string `json:"whatsapp_url,omitempty" yaml:"whatsapp_url" toml:"whatsapp_url"`
	InstagramURL string `json:"instagram_url,omitempty" yaml:"instagram_url" toml:"instagram_url"`
	TiktokURL    string `json:"tiktok_url,omitempty" yaml:"tiktok_url" toml:"tiktok_url"`
	Email        string `json:"email,omitempty" yaml:"email" toml:"email"`
}

// Validate checks the invariants the player relies on.
func (s *Station) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: nil station", ErrInvalidStation)
	}
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidStation)
	}
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: %s: missing name", ErrInvalidStation, s.ID)
	}
	if !isAbsoluteHTTP(s.StreamURL) {
		return fmt.Errorf("%w: %s: stream url %q is not an absolute http(s) url", ErrInvalidStation, s.ID, s.StreamURL)
	}
	if s.MetadataURL != "" && !isAbsoluteHTTP(s.MetadataURL) {
		return fmt.Errorf("%w: %s: metadata url %q is not an absolute http(s) url", ErrInvalidStation, s.ID, s.MetadataURL)
	}
	return nil
}

// Location is the most specific place known for the station.
func (s *Station) Location() string {
	switch {
	case s.City != "":
		return s.City
	case s.State != "":
		return s.State
	default:
		return s.Country
	}
}

// Matches reports whether the search term occurs in the name, location or tags.
func (s *Station) Matches(term string) bool {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return true
	}
	fields := append([]string{s.Name, s.City, s.State, s.Country}, s.Tags...)
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), term) {
			return true
		}
	}
	return false
}

func FindByID(all []Station, id string) *Station {
	for i := range all {
		if all[i].ID == id {
			return &all[i]
		}
	}
	return nil
}

// FilterByIDs keeps the stations whose id is in ids, in catalog order.
func FilterByIDs(all []Station, ids []string) []Station {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	out := make([]Station, 0, len(ids))
	for _, s := range all {
		if _, ok := want[s.ID]; ok && s.ID != "" {
			out = append(out, s)
		}
	}
	return out
}

func isAbsoluteHTTP(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
