package feed

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
)

var ErrNoRelease = errors.New("feed: release not found")

const imageBase = "https://subsplease.org"

// Release is the metadata the search API returns for one episode.
type Release struct {
	ImageURL    string
	ReleaseDate string
}

type searchEntry struct {
	ImageURL    string `json:"image_url"`
	ReleaseDate string `json:"release_date"`
}

// Search looks up "<title> - <episode>".
func (c *Client) Search(ctx context.Context, title, episode string) (Release, error) {
	key := title + " - " + episode
	u, err := url.Parse(c.cfg.SearchURL)
	if err != nil {
		return Release{}, &TransportError{URL: c.cfg.SearchURL, Err: err}
	}
	q := u.Query()
	q.Set("s", key)
	u.RawQuery = q.Encode()

	b, err := c.get(ctx, "search", u.String())
	if err != nil {
		return Release{}, err
	}
	return parseSearch(b, key)
}

func parseSearch(b []byte, key string) (Release, error) {
	// An empty result is encoded as [] rather than {}.
	var m map[string]searchEntry
	if err := json.Unmarshal(b, &m); err != nil {
		return Release{}, ErrNoRelease
	}
	e, ok := m[key]
	if !ok {
		return Release{}, ErrNoRelease
	}
	r := Release{ReleaseDate: e.ReleaseDate}
	switch {
	case e.ImageURL == "":
	case strings.HasPrefix(e.ImageURL, "http://"), strings.HasPrefix(e.ImageURL, "https://"):
		r.ImageURL = e.ImageURL
	default:
		r.ImageURL = imageBase + e.ImageURL
	}
	return r, nil
}
