package remote

import (
	"bytes"
	"cmp"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/lysyi3m/timeline-sync/app/syncerr"
	"github.com/mmcdole/gofeed"
)

var createdAtLayouts = []string{
	time.RubyDate,
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
}

func parseCreatedAt(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range createdAtLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", value)
}

// decodeJSON turns a friends_timeline array into statuses. A payload that is
// not an array yields nothing; items that fail validation are dropped.
func decodeJSON(data []byte, logger *slog.Logger) []Status {
	if len(bytes.TrimSpace(data)) == 0 {
		logger.Warn("Empty timeline payload")
		return []Status{}
	}

	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		logger.Warn("Malformed timeline payload", "error", err)
		return []Status{}
	}

	statuses := make([]Status, 0, len(items))
	for i, item := range items {
		status, err := decodeJSONStatus(item)
		if err != nil {
			logger.Warn("Dropping invalid status", "index", i, "error", err)
			continue
		}
		statuses = append(statuses, status)
	}

	return statuses
}

func decodeJSONStatus(item json.RawMessage) (Status, error) {
	var raw rawStatus
	if err := json.Unmarshal(item, &raw); err != nil {
		return Status{}, syncerr.NewValidation("decode status", err)
	}

	status := Status{
		ID:     cmp.Or(raw.IDStr, string(raw.ID)),
		Text:   raw.Text,
		Source: raw.Source,
		User: User{
			ID:              cmp.Or(raw.User.IDStr, string(raw.User.ID)),
			ScreenName:      raw.User.ScreenName,
			Name:            raw.User.Name,
			URL:             raw.User.URL,
			Description:     raw.User.Description,
			Location:        raw.User.Location,
			ProfileImageURL: raw.User.ProfileImageURL,
		},
	}

	createdAt, err := parseCreatedAt(raw.CreatedAt)
	if err != nil {
		return Status{}, syncerr.NewValidation("decode status", err)
	}
	status.CreatedAt = createdAt

	if err := validate(status); err != nil {
		return Status{}, err
	}

	return status, nil
}

// decodeFeed reads Atom or RSS timelines such as those served by StatusNet
func decodeFeed(data []byte, parser *gofeed.Parser, logger *slog.Logger) []Status {
	if len(bytes.TrimSpace(data)) == 0 {
		logger.Warn("Empty timeline payload")
		return []Status{}
	}

	feed, err := parser.Parse(bytes.NewReader(data))
	if err != nil {
		logger.Warn("Malformed timeline payload", "error", err)
		return []Status{}
	}

	statuses := make([]Status, 0, len(feed.Items))
	for i, item := range feed.Items {
		status, err := decodeFeedItem(item)
		if err != nil {
			logger.Warn("Dropping invalid status", "index", i, "error", err)
			continue
		}
		statuses = append(statuses, status)
	}

	return statuses
}

func decodeFeedItem(item *gofeed.Item) (Status, error) {
	status := Status{
		ID:   lastSegment(cmp.Or(item.Link, item.GUID)),
		Text: cmp.Or(item.Description, item.Content, item.Title),
	}

	switch {
	case item.PublishedParsed != nil:
		status.CreatedAt = item.PublishedParsed.UTC()
	case item.UpdatedParsed != nil:
		status.CreatedAt = item.UpdatedParsed.UTC()
	default:
		return Status{}, syncerr.NewValidation("decode feed item", fmt.Errorf("missing publication date"))
	}

	if item.Author != nil {
		status.User.ScreenName = strings.TrimSpace(item.Author.Name)
	}

	// RSS timelines carry the author as a "nick: text" title prefix.
	if nick, text, ok := strings.Cut(item.Title, ": "); ok && !strings.ContainsAny(nick, " \t") {
		if status.User.ScreenName == "" {
			status.User.ScreenName = nick
		}
		if item.Description == "" && item.Content == "" {
			status.Text = text
		}
	}

	if item.Link != "" {
		if u, err := url.Parse(item.Link); err == nil {
			if parts := strings.Split(strings.Trim(u.Path, "/"), "/"); len(parts) >= 3 && parts[1] == "status" {
				status.User.ScreenName = cmp.Or(status.User.ScreenName, parts[0])
			}
		}
	}

	if item.Image != nil {
		status.User.ProfileImageURL = item.Image.URL
	}
	if src, ok := item.Custom["source"]; ok {
		status.Source = src
	}

	if err := validate(status); err != nil {
		return Status{}, err
	}

	return status, nil
}

func validate(s Status) error {
	if s.ID == "" {
		return syncerr.NewValidation("validate status", fmt.Errorf("missing status id"))
	}
	if s.User.ScreenName == "" {
		return syncerr.NewValidation("validate status", fmt.Errorf("status %s has no author screen name", s.ID))
	}
	if s.CreatedAt.IsZero() {
		return syncerr.NewValidation("validate status", fmt.Errorf("status %s has no creation time", s.ID))
	}
	return nil
}

// lastSegment returns the trailing id of a link or tag URI, e.g.
// https://identi.ca/notice/123 or tag:identi.ca,2009:notice:123
func lastSegment(ref string) string {
	ref = strings.TrimRight(ref, "/")
	if ref == "" {
		return ""
	}
	if u, err := url.Parse(ref); err == nil && u.Host != "" {
		if base := path.Base(u.Path); base != "." && base != "/" {
			return base
		}
		return ""
	}
	if i := strings.LastIndexAny(ref, ":/"); i >= 0 {
		return ref[i+1:]
	}
	return ref
}
