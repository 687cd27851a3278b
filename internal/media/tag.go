package media

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/bogem/id3v2/v2"

	"github.com/OpyrusDevOp/YDownloader/internal/httpclient"
)

// Metadata is the optional tag payload of an audio generation request.
type Metadata struct {
	Title    string `json:"title"`
	Artist   string `json:"artist"`
	Album    string `json:"album"`
	Year     string `json:"year"`
	CoverURL string `json:"cover_url"`
}

// Empty reports whether there is nothing worth writing.
func (m Metadata) Empty() bool {
	return m.Title == "" && m.Artist == "" && m.Album == "" && m.Year == "" && m.CoverURL == ""
}

// TagStatus is the soft outcome of tagging. Tagging never fails a
// generation; a problem is reported here alongside the successful artifact.
type TagStatus struct {
	Applied bool   `json:"success"`
	Message string `json:"message"`
}

// Tagger writes ID3v2 frames onto finished MP3 artifacts.
type Tagger struct {
	Client *http.Client // for cover art fetches; nil = httpclient.Default()
}

// Tag writes the text frames and, when CoverURL resolves, an attached
// picture. A cover fetch failure degrades to text-only tags; any hard
// failure is reported in the status, never as an error.
func (t *Tagger) Tag(ctx context.Context, path string, md Metadata) TagStatus {
	if md.Empty() {
		return TagStatus{Applied: false, Message: "no metadata supplied"}
	}
	tag, err := id3v2.Open(path, id3v2.Options{Parse: false})
	if err != nil {
		return TagStatus{Applied: false, Message: "open tags: " + err.Error()}
	}
	defer tag.Close()

	if md.Title != "" {
		tag.SetTitle(md.Title)
	}
	if md.Artist != "" {
		tag.SetArtist(md.Artist)
	}
	if md.Album != "" {
		tag.SetAlbum(md.Album)
	}
	if md.Year != "" {
		tag.AddTextFrame("TDRC", tag.DefaultEncoding(), md.Year)
	}

	coverNote := ""
	if md.CoverURL != "" {
		if pic, mime, err := t.fetchCover(ctx, md.CoverURL); err != nil {
			coverNote = " (cover omitted: " + err.Error() + ")"
		} else {
			tag.AddAttachedPicture(id3v2.PictureFrame{
				Encoding:    tag.DefaultEncoding(),
				MimeType:    mime,
				PictureType: id3v2.PTFrontCover,
				Description: "Cover",
				Picture:     pic,
			})
		}
	}

	if err := tag.Save(); err != nil {
		return TagStatus{Applied: false, Message: "save tags: " + err.Error()}
	}
	return TagStatus{Applied: true, Message: "metadata written" + coverNote}
}

func (t *Tagger) fetchCover(ctx context.Context, url string) (data []byte, mime string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := httpclient.DoWithRetry(ctx, t.Client, req, httpclient.DefaultRetryPolicy)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("cover fetch: %s", resp.Status)
	}
	data, err = io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, "", err
	}
	return data, http.DetectContentType(data), nil
}
