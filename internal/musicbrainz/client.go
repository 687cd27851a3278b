// Package musicbrainz looks up song metadata (artist, album, year, cover
// art) for tagging audio artifacts. Queries go to the public MusicBrainz API
// under its one-request-per-second etiquette; results are cached so repeated
// searches do not hit the network.
package musicbrainz

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/OpyrusDevOp/YDownloader/internal/httpclient"
)

const (
	defaultBaseURL     = "https://musicbrainz.org/ws/2"
	defaultCoverArtURL = "https://coverartarchive.org/release"
	searchLimit        = 10
)

// Recording is one search result, flattened for the API response and for
// media.Metadata.
type Recording struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Artist   string `json:"artist"`
	Album    string `json:"album"`
	Year     string `json:"year"`
	CoverURL string `json:"cover_url,omitempty"`
}

// Client queries the MusicBrainz recording search and the Cover Art Archive.
type Client struct {
	BaseURL     string // override for tests
	CoverArtURL string // override for tests
	UserAgent   string
	HTTPClient  *http.Client
	Cache       *Cache // optional; nil disables caching

	limiter *rate.Limiter
}

// NewClient builds a client rate-limited to 1 request/second as MusicBrainz
// requires of anonymous API users.
func NewClient(userAgent string, httpClient *http.Client, cache *Cache) *Client {
	return &Client{
		BaseURL:     defaultBaseURL,
		CoverArtURL: defaultCoverArtURL,
		UserAgent:   userAgent,
		HTTPClient:  httpClient,
		Cache:       cache,
		limiter:     rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// Search returns up to 10 recordings matching query, each with artist, first
// release album/year and a cover art URL when the archive has one. A cover
// probe failure just omits the cover.
func (c *Client) Search(ctx context.Context, query string) ([]Recording, error) {
	if recs, ok := c.Cache.Get(query); ok {
		return recs, nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	u := fmt.Sprintf("%s/recording?query=%s&fmt=json&limit=%d", c.BaseURL, url.QueryEscape(query), searchLimit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.UserAgent)
	resp, err := httpclient.DoWithRetry(ctx, c.HTTPClient, req, httpclient.DefaultRetryPolicy)
	if err != nil {
		return nil, fmt.Errorf("musicbrainz: search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("musicbrainz: search: %s", resp.Status)
	}

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("musicbrainz: decode: %w", err)
	}

	recs := make([]Recording, 0, len(sr.Recordings))
	for _, r := range sr.Recordings {
		rec := Recording{ID: r.ID, Title: r.Title, Artist: "Unknown Artist", Album: "Unknown Album", Year: "Unknown"}
		if len(r.ArtistCredit) > 0 && r.ArtistCredit[0].Name != "" {
			rec.Artist = r.ArtistCredit[0].Name
		}
		if len(r.Releases) > 0 {
			rel := r.Releases[0]
			if rel.Title != "" {
				rec.Album = rel.Title
			}
			if len(rel.Date) >= 4 {
				rec.Year = rel.Date[:4]
			}
			if rel.ID != "" {
				if cover := c.coverURL(ctx, rel.ID); cover != "" {
					rec.CoverURL = cover
				}
			}
		}
		recs = append(recs, rec)
	}

	c.Cache.Put(query, recs)
	return recs, nil
}

// coverURL probes the Cover Art Archive for a front-500 image of release.
// Returns "" when absent or unreachable.
func (c *Client) coverURL(ctx context.Context, releaseID string) string {
	u := fmt.Sprintf("%s/%s/front-500", c.CoverArtURL, releaseID)
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u, nil)
	if err != nil {
		return ""
	}
	req.Header.Set("User-Agent", c.UserAgent)
	client := c.HTTPClient
	if client == nil {
		client = httpclient.Default()
	}
	resp, err := client.Do(req)
	if err != nil {
		return ""
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}
	return u
}

type searchResponse struct {
	Recordings []struct {
		ID           string `json:"id"`
		Title        string `json:"title"`
		ArtistCredit []struct {
			Name string `json:"name"`
		} `json:"artist-credit"`
		Releases []struct {
			ID    string `json:"id"`
			Title string `json:"title"`
			Date  string `json:"date"`
		} `json:"releases"`
	} `json:"recordings"`
}
