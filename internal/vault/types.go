package vault

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Plaintext vault model. Only ever materialized client-side, in memory,
// while the session is unlocked; the server sees nothing but ciphertext.

type ItemType string

const (
	TypeLogin   ItemType = "login"
	TypeNote    ItemType = "note"
	TypePasskey ItemType = "passkey"
)

type CustomFieldType string

const (
	FieldText    CustomFieldType = "text"
	FieldHidden  CustomFieldType = "hidden"
	FieldBoolean CustomFieldType = "boolean"
)

type NoteRenderType string

const (
	NoteText     NoteRenderType = "text"
	NoteMarkdown NoteRenderType = "markdown"
)

type CustomField struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Value string          `json:"value"`
	Type  CustomFieldType `json:"type"`
}

type Item struct {
	ID             string         `json:"id"`
	Type           ItemType       `json:"type"`
	Name           string         `json:"name"`
	Username       string         `json:"username,omitempty"`
	Password       string         `json:"password,omitempty"`
	URI            string         `json:"uri,omitempty"`
	TOTPSecret     string         `json:"totpSecret,omitempty"` // base32, for login items
	CustomFields   []CustomField  `json:"customFields,omitempty"`
	Content        string         `json:"content,omitempty"` // notes
	NoteRenderType NoteRenderType `json:"noteRenderType,omitempty"`
	CreatedAt      int64          `json:"createdAt"` // unix millis
}

type Data struct {
	Items     []Item `json:"items"`
	UpdatedAt int64  `json:"updatedAt"` // unix millis
}

func NewData() *Data {
	return &Data{Items: []Item{}, UpdatedAt: nowMillis()}
}

func NewItemID() string {
	return uuid.NewString()
}

// Add appends an item. Item identity is the caller-supplied or generated ID;
// every mutation bumps UpdatedAt.
func (d *Data) Add(item Item) {
	d.Items = append(d.Items, item)
	d.UpdatedAt = nowMillis()
}

// Update replaces the item with a matching ID wholesale. Returns false if no
// item matched.
func (d *Data) Update(item Item) bool {
	for i := range d.Items {
		if d.Items[i].ID == item.ID {
			d.Items[i] = item
			d.UpdatedAt = nowMillis()
			return true
		}
	}
	return false
}

// Delete removes the item with the given ID. Returns false if no item matched.
func (d *Data) Delete(id string) bool {
	for i := range d.Items {
		if d.Items[i].ID == id {
			d.Items = append(d.Items[:i], d.Items[i+1:]...)
			d.UpdatedAt = nowMillis()
			return true
		}
	}
	return false
}

// Search returns items whose name, username, URI, or note content contain
// the query, case-insensitively. An empty query matches everything.
func (d *Data) Search(q string) []Item {
	if q == "" {
		return append([]Item(nil), d.Items...)
	}
	q = strings.ToLower(q)
	var out []Item
	for _, it := range d.Items {
		haystack := strings.ToLower(it.Name + " " + it.Username + " " + it.URI + " " + it.Content)
		if strings.Contains(haystack, q) {
			out = append(out, it)
		}
	}
	return out
}

func (d *Data) Find(id string) (Item, bool) {
	for _, it := range d.Items {
		if it.ID == id {
			return it, true
		}
	}
	return Item{}, false
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
