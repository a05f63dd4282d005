// Package session defines the canonical session record the coordinator
// maintains for each page's active media element, plus the page context
// that accompanies inbound reports.
package session

import "time"

// Key returns the canonical session key for a page/element pair.
func Key(pageID, elementID string) string {
	return pageID + ":" + elementID
}

// PageContext describes the page a report originated from. The channel
// layer captures it at handshake and refreshes it as reports arrive.
type PageContext struct {
	PageID     string
	URL        string
	Title      string
	FaviconURL string
	// FrameURL is the URL of the reporting context, which differs from URL
	// when the element lives in an embedded frame.
	FrameURL string
}

// Session is the coordinator's record for one page's active element. It is
// fully replaced on every update; consumers must not mutate shared copies.
type Session struct {
	ID        string `json:"id"`
	PageID    string `json:"pageId"`
	ElementID string `json:"elementId"`

	Title      string `json:"title,omitempty"`
	Artist     string `json:"artist,omitempty"`
	ArtworkURL string `json:"artworkUrl,omitempty"`
	Origin     string `json:"origin,omitempty"`
	SiteName   string `json:"siteName,omitempty"`
	FaviconURL string `json:"faviconUrl,omitempty"`
	SourceURL  string `json:"sourceUrl,omitempty"`

	IsPlaying        bool     `json:"isPlaying"`
	IsEnded          bool     `json:"isEnded"`
	Muted            bool     `json:"muted"`
	Volume           float64  `json:"volume"`
	PlaybackRate     float64  `json:"playbackRate"`
	Duration         *float64 `json:"duration,omitempty"`
	CurrentTime      float64  `json:"currentTime"`
	PictureInPicture bool     `json:"pictureInPicture,omitempty"`

	LastUpdated time.Time `json:"lastUpdated"`
}
