package service

import (
	"net/url"
	"strings"
	"time"
)

const (
	FormatJSON = "json"
	FormatAtom = "atom"
	FormatRSS  = "rss"
)

// Service describes one remote timeline provider
type Service struct {
	Name         string   // Derived from filename (without .yml extension)
	ID           int      `yaml:"id"`
	BaseURL      string   `yaml:"base_url"`
	TimelineURL  string   `yaml:"timeline_url"`
	Format       string   `yaml:"format"`
	AvatarPrefix string   `yaml:"avatar_prefix"`
	Settings     Settings `yaml:"settings"`
}

type Settings struct {
	Enabled bool `yaml:"enabled"`
	Timeout int  `yaml:"timeout"` // seconds
}

// ProfileURL returns the canonical profile address of a remote user
func (s *Service) ProfileURL(screenName string) string {
	return strings.TrimRight(s.BaseURL, "/") + "/" + screenName
}

// StatusURI returns the canonical address of a remote status
func (s *Service) StatusURI(screenName, statusID string) string {
	return s.ProfileURL(screenName) + "/status/" + statusID
}

const screenNamePlaceholder = "{screen_name}"

// TimelineFor expands the {screen_name} placeholder of the timeline URL,
// escaping the name for the part of the URL it lands in.
func (s *Service) TimelineFor(screenName string) string {
	base, query, hasQuery := strings.Cut(s.TimelineURL, "?")
	expanded := strings.ReplaceAll(base, screenNamePlaceholder, url.PathEscape(screenName))
	if hasQuery {
		expanded += "?" + strings.ReplaceAll(query, screenNamePlaceholder, url.QueryEscape(screenName))
	}
	return expanded
}

func (s *Service) RequestTimeout() time.Duration {
	return time.Duration(s.Settings.Timeout) * time.Second
}
