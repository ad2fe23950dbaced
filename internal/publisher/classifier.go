package publisher

import (
	"strings"

	"maxprint.app/orderflow/internal/model"
	"maxprint.app/orderflow/internal/trello"
)

// Event-type tags recorded on the current row and the event log.
const (
	EventTypeCreate       = "createCard"
	EventTypeDelete       = "deleteCard"
	EventTypeArchived     = "updateCard:archived"
	EventTypeUnarchived   = "updateCard:unarchived"
	EventTypeDescChanged  = "updateCard:desc_changed"
	EventTypeListMoved    = "updateCard:list_moved"
	EventTypeTitleChanged = "updateCard:title_changed"
	EventTypeOther        = "updateCard:other"
)

// Change is the delta between the stored snapshot and a freshly fetched
// card body.
type Change struct {
	Archived           bool
	Unarchived         bool
	DescriptionChanged bool
	ListMoved          bool
	TitleChanged       bool

	// EventType is the single tag for the change. When several facts
	// changed at once the most consequential wins: archival transitions
	// over content edits, content edits over cosmetic ones.
	EventType string
}

// Classify compares the previous snapshot with the incoming card body. A
// nil previous means the card is new to the current table; that is not a
// description change, since first extraction belongs to the create path.
func Classify(prev *model.Card, incoming *trello.Card) Change {
	if prev == nil {
		return Change{EventType: EventTypeOther}
	}

	c := Change{
		Archived:           !prev.Closed && incoming.Closed,
		Unarchived:         prev.Closed && !incoming.Closed,
		DescriptionChanged: !equalTrimmed(deref(prev.Desc), incoming.Desc),
		ListMoved:          deref(prev.ListID) != incoming.IDList,
		TitleChanged:       !equalTrimmed(deref(prev.Name), incoming.Name),
	}

	switch {
	case c.Archived:
		c.EventType = EventTypeArchived
	case c.Unarchived:
		c.EventType = EventTypeUnarchived
	case c.DescriptionChanged:
		c.EventType = EventTypeDescChanged
	case c.ListMoved:
		c.EventType = EventTypeListMoved
	case c.TitleChanged:
		c.EventType = EventTypeTitleChanged
	default:
		c.EventType = EventTypeOther
	}
	return c
}

func equalTrimmed(a, b string) bool {
	return strings.TrimSpace(a) == strings.TrimSpace(b)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
