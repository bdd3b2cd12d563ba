package remote

import (
	"bytes"
	"encoding/json"
	"time"
)

// Status is one entry of a remote timeline
type Status struct {
	ID        string
	Text      string
	CreatedAt time.Time
	Source    string
	User      User
}

// User describes the remote author of a status
type User struct {
	ID              string
	ScreenName      string
	Name            string
	URL             string
	Description     string
	Location        string
	ProfileImageURL string
}

// Wire format of the friends_timeline JSON payload

type rawStatus struct {
	ID        flexID  `json:"id"`
	IDStr     string  `json:"id_str"`
	Text      string  `json:"text"`
	CreatedAt string  `json:"created_at"`
	Source    string  `json:"source"`
	User      rawUser `json:"user"`
}

type rawUser struct {
	ID              flexID `json:"id"`
	IDStr           string `json:"id_str"`
	ScreenName      string `json:"screen_name"`
	Name            string `json:"name"`
	URL             string `json:"url"`
	Description     string `json:"description"`
	Location        string `json:"location"`
	ProfileImageURL string `json:"profile_image_url"`
}

// flexID accepts ids encoded either as JSON numbers or strings.
// Numbers are kept verbatim so 64-bit ids never pass through float64.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}
