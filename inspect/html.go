// Package inspect reads classification facts from feed item markup.
package inspect

import (
	"errors"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"github.com/justapithecus/setscout/classify"
	"github.com/justapithecus/setscout/types"
)

// Default selectors for the stream feed markup.
const (
	DefaultPlaylistSelector = ".playlist"
	DefaultLikedSelector    = "button.sc-button-like.sc-button-selected"
	DefaultLinkSelector     = "div.soundTitle a.sc-link-primary"
)

// Selectors locate the facts inside an item's markup.
type Selectors struct {
	Playlist string
	Liked    string
	Link     string
}

// DefaultSelectors returns the stream feed selectors.
func DefaultSelectors() Selectors {
	return Selectors{
		Playlist: DefaultPlaylistSelector,
		Liked:    DefaultLikedSelector,
		Link:     DefaultLinkSelector,
	}
}

// HTMLInspector implements classify.Inspector over the outer HTML an
// observer captured. Flags the observer already set take precedence; the
// markup is consulted only when present.
type HTMLInspector struct {
	selectors Selectors

	// The classifier asks up to three questions about the same item in a
	// row; the last parsed document answers all of them.
	mu     sync.Mutex
	last   parsedItem
	parses int
}

type parsedItem struct {
	handle string
	markup string
	doc    *goquery.Selection
}

// NewHTMLInspector creates an inspector. Empty selector fields fall back
// to the defaults.
func NewHTMLInspector(sel Selectors) *HTMLInspector {
	def := DefaultSelectors()
	if sel.Playlist == "" {
		sel.Playlist = def.Playlist
	}
	if sel.Liked == "" {
		sel.Liked = def.Liked
	}
	if sel.Link == "" {
		sel.Link = def.Link
	}
	return &HTMLInspector{selectors: sel}
}

func (h *HTMLInspector) document(item types.Item) *goquery.Selection {
	if strings.TrimSpace(item.Markup) == "" {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.last.doc != nil && h.last.handle == item.Handle && h.last.markup == item.Markup {
		return h.last.doc
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(item.Markup))
	if err != nil {
		return nil
	}
	h.parses++
	h.last = parsedItem{handle: item.Handle, markup: item.Markup, doc: doc.Selection}
	return doc.Selection
}

// matches reports whether sel matches the root element or any descendant.
func matches(doc *goquery.Selection, sel string) bool {
	return doc.Find(sel).Length() > 0
}

// IsPlaylist reports whether the item is a playlist.
func (h *HTMLInspector) IsPlaylist(item types.Item) bool {
	if item.Playlist {
		return true
	}
	doc := h.document(item)
	return doc != nil && matches(doc, h.selectors.Playlist)
}

// IsLiked reports whether the item's like button is selected.
func (h *HTMLInspector) IsLiked(item types.Item) bool {
	if item.Liked {
		return true
	}
	doc := h.document(item)
	return doc != nil && matches(doc, h.selectors.Liked)
}

// Permalink returns the item's permalink from the observer-resolved URL or
// the title link href.
func (h *HTMLInspector) Permalink(item types.Item) (types.Permalink, error) {
	href := item.PermalinkURL
	if href == "" {
		if doc := h.document(item); doc != nil {
			href, _ = doc.Find(h.selectors.Link).First().Attr("href")
		}
	}
	if href == "" {
		return "", errors.Join(classify.ErrUnresolvedIdentity, errors.New("no title link"))
	}
	p, err := types.ParsePermalink(href)
	if err != nil {
		return "", errors.Join(classify.ErrUnresolvedIdentity, err)
	}
	return p, nil
}

var _ classify.Inspector = (*HTMLInspector)(nil)
