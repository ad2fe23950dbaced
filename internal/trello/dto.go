package trello

import "time"

// WebhookPayload is the body Trello POSTs to the callback URL. Only the
// action matters to the pipeline; model echoes the subscribed board.
type WebhookPayload struct {
	Action Action `json:"action"`
	Model  *Model `json:"model,omitempty"`
}

// Action describes a single change to a card. The action id is provider-
// assigned and unique per delivery attempt target, which makes it the
// pipeline's idempotency key.
type Action struct {
	ID            string     `json:"id"`
	Type          string     `json:"type"`
	Date          *time.Time `json:"date,omitempty"`
	Data          ActionData `json:"data"`
	MemberCreator *Member    `json:"memberCreator,omitempty"`
}

type ActionData struct {
	Board      *BoardRef `json:"board,omitempty"`
	Card       *CardRef  `json:"card,omitempty"`
	List       *ListRef  `json:"list,omitempty"`
	ListBefore *ListRef  `json:"listBefore,omitempty"`
	ListAfter  *ListRef  `json:"listAfter,omitempty"`
}

type BoardRef struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	ShortLink string `json:"shortLink,omitempty"`
}

type ListRef struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	IDBoard string `json:"idBoard,omitempty"`
}

type CardRef struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	IDList    string `json:"idList,omitempty"`
	IDBoard   string `json:"idBoard,omitempty"`
	ShortLink string `json:"shortLink,omitempty"`
}

type Member struct {
	ID       string `json:"id"`
	FullName string `json:"fullName,omitempty"`
	Username string `json:"username,omitempty"`
}

type Model struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	ShortLink string `json:"shortLink,omitempty"`
}

// IsListTransition reports whether the action moved the card between lists:
// both sides present and different.
func (a Action) IsListTransition() bool {
	return a.Data.ListBefore != nil &&
		a.Data.ListAfter != nil &&
		a.Data.ListBefore.ID != a.Data.ListAfter.ID
}

// Card is the full card body fetched from the REST API, the authoritative
// input to classification and extraction.
type Card struct {
	ID               string       `json:"id"`
	Name             string       `json:"name"`
	Desc             string       `json:"desc"`
	Closed           bool         `json:"closed"`
	IDList           string       `json:"idList"`
	IDBoard          string       `json:"idBoard"`
	ShortLink        string       `json:"shortLink,omitempty"`
	URL              string       `json:"url,omitempty"`
	DateLastActivity *time.Time   `json:"dateLastActivity,omitempty"`
	Labels           []Label      `json:"labels,omitempty"`
	Attachments      []Attachment `json:"attachments,omitempty"`
	Actions          []Comment    `json:"actions,omitempty"`
}

type Label struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

type Attachment struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	URL  string `json:"url,omitempty"`
}

// Comment is a commentCard action returned alongside the card body.
type Comment struct {
	ID   string     `json:"id"`
	Date *time.Time `json:"date,omitempty"`
	Data struct {
		Text string `json:"text"`
	} `json:"data"`
	MemberCreator *Member `json:"memberCreator,omitempty"`
}

type Board struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	URL            string `json:"url,omitempty"`
	Closed         bool   `json:"closed"`
	IDOrganization string `json:"idOrganization,omitempty"`
}

// Webhook is the metadata of a registered webhook subscription.
type Webhook struct {
	ID          string `json:"id"`
	Description string `json:"description,omitempty"`
	IDModel     string `json:"idModel"`
	CallbackURL string `json:"callbackURL"`
	Active      bool   `json:"active"`
}
