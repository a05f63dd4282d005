// Package wire defines the message envelope exchanged over hub channels.
// Every frame is one JSON-encoded Envelope whose Type field selects which
// payload pointer is populated.
package wire

import "github.com/mediasessions/mediahub/lib/session"

// Role identifies what kind of endpoint a channel belongs to.
type Role string

const (
	RolePage     Role = "page"
	RoleObserver Role = "observer"
)

// Envelope types
const (
	MsgHello    = "hello"
	MsgUpdate   = "update"
	MsgRemove   = "remove"
	MsgSessions = "sessions"
	MsgCommand  = "command"
	MsgResult   = "result"
	MsgGoodbye  = "goodbye"
)

// Envelope is the single frame type carried on page and observer channels.
type Envelope struct {
	Type     string            `json:"type"`
	Hello    *Hello            `json:"hello,omitempty"`
	Update   *ElementUpdate    `json:"update,omitempty"`
	Remove   *ElementRemove    `json:"remove,omitempty"`
	Sessions *SessionsSnapshot `json:"sessions,omitempty"`
	Command  *Command          `json:"command,omitempty"`
	Result   *CommandResult    `json:"result,omitempty"`
	Goodbye  *Goodbye          `json:"goodbye,omitempty"`
}

// Hello is the first frame on any channel and declares the endpoint's role.
// Page channels also carry their identity and initial context.
type Hello struct {
	Role       Role   `json:"role"`
	PageID     string `json:"pageId,omitempty"`
	URL        string `json:"url,omitempty"`
	Title      string `json:"title,omitempty"`
	FaviconURL string `json:"faviconUrl,omitempty"`
}

// ElementUpdate is a page's full-state report for one element. The page
// context fields are optional refreshes; navigation can change them after
// the handshake.
type ElementUpdate struct {
	ElementID string `json:"elementId"`

	Title      string `json:"title,omitempty"`
	Artist     string `json:"artist,omitempty"`
	ArtworkURL string `json:"artworkUrl,omitempty"`
	SourceURL  string `json:"sourceUrl,omitempty"`
	Origin     string `json:"origin,omitempty"`
	SiteName   string `json:"siteName,omitempty"`

	IsPlaying        bool     `json:"isPlaying"`
	IsEnded          bool     `json:"isEnded"`
	Muted            bool     `json:"muted"`
	Volume           float64  `json:"volume"`
	PlaybackRate     float64  `json:"playbackRate"`
	Duration         *float64 `json:"duration,omitempty"`
	CurrentTime      float64  `json:"currentTime"`
	PictureInPicture bool     `json:"pictureInPicture,omitempty"`

	PageURL    string `json:"pageUrl,omitempty"`
	PageTitle  string `json:"pageTitle,omitempty"`
	FaviconURL string `json:"faviconUrl,omitempty"`
	FrameURL   string `json:"frameUrl,omitempty"`
}

// ElementRemove retracts a page's report for one element.
type ElementRemove struct {
	ElementID string `json:"elementId"`
}

// SessionsSnapshot is the coordinator's push to observer channels. It is a
// full replacement, never a patch.
type SessionsSnapshot struct {
	Sessions []session.Session `json:"sessions"`
}

// CommandName is the playback command vocabulary.
type CommandName string

const (
	CommandTogglePlay   CommandName = "toggle-play"
	CommandSeekRelative CommandName = "seek-relative"
	CommandSeekAbsolute CommandName = "seek-absolute"
)

// CommandParams carries the numeric argument for seek commands.
type CommandParams struct {
	Delta *float64 `json:"delta,omitempty"`
	Time  *float64 `json:"time,omitempty"`
}

// Command travels observer→coordinator addressed by SessionID, and
// coordinator→page addressed by ElementID with a correlation ID for the
// result frame.
type Command struct {
	ID        int64          `json:"id,omitempty"`
	SessionID string         `json:"sessionId,omitempty"`
	ElementID string         `json:"elementId,omitempty"`
	Name      CommandName    `json:"command"`
	Params    *CommandParams `json:"params,omitempty"`
}

// CommandResult is the page's asynchronous ack for an addressed command.
type CommandResult struct {
	ID    int64  `json:"id"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// ResultUnknownElement is the error reported when an addressed command
// names an element the page is not tracking or a command it does not know.
const ResultUnknownElement = "unknown-element"

// Goodbye is a page's explicit close notification. Dropping the channel
// implies the same.
type Goodbye struct {
	PageID string `json:"pageId"`
}

// Helper constructors

func NewPageHello(pageID, url, title, faviconURL string) Envelope {
	return Envelope{Type: MsgHello, Hello: &Hello{
		Role:       RolePage,
		PageID:     pageID,
		URL:        url,
		Title:      title,
		FaviconURL: faviconURL,
	}}
}

func NewObserverHello() Envelope {
	return Envelope{Type: MsgHello, Hello: &Hello{Role: RoleObserver}}
}

func NewUpdateMsg(update ElementUpdate) Envelope {
	return Envelope{Type: MsgUpdate, Update: &update}
}

func NewRemoveMsg(elementID string) Envelope {
	return Envelope{Type: MsgRemove, Remove: &ElementRemove{ElementID: elementID}}
}

func NewSessionsMsg(sessions []session.Session) Envelope {
	return Envelope{Type: MsgSessions, Sessions: &SessionsSnapshot{Sessions: sessions}}
}

func NewCommandMsg(cmd Command) Envelope {
	return Envelope{Type: MsgCommand, Command: &cmd}
}

func NewResultMsg(id int64, ok bool, errMsg string) Envelope {
	return Envelope{Type: MsgResult, Result: &CommandResult{ID: id, OK: ok, Error: errMsg}}
}

func NewGoodbyeMsg(pageID string) Envelope {
	return Envelope{Type: MsgGoodbye, Goodbye: &Goodbye{PageID: pageID}}
}
