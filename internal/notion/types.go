package notion

import "fmt"

// Kind enumerates the Notion property kinds the converter understands.
// Config strings are parsed once through ParseKind, so an unknown kind is
// a startup error, never a silent default at sync time.
type Kind string

const (
	KindTitle          Kind = "title"
	KindRichText       Kind = "rich_text"
	KindNumber         Kind = "number"
	KindDate           Kind = "date"
	KindCheckbox       Kind = "checkbox"
	KindSelect         Kind = "select"
	KindMultiSelect    Kind = "multi_select"
	KindURL            Kind = "url"
	KindEmail          Kind = "email"
	KindPhoneNumber    Kind = "phone_number"
	KindRelation       Kind = "relation"
	KindRollup         Kind = "rollup"
	KindFormula        Kind = "formula"
	KindCreatedTime    Kind = "created_time"
	KindLastEditedTime Kind = "last_edited_time"
)

var allKinds = map[Kind]bool{
	KindTitle: true, KindRichText: true, KindNumber: true, KindDate: true,
	KindCheckbox: true, KindSelect: true, KindMultiSelect: true, KindURL: true,
	KindEmail: true, KindPhoneNumber: true, KindRelation: true, KindRollup: true,
	KindFormula: true, KindCreatedTime: true, KindLastEditedTime: true,
}

// ParseKind validates a property kind string.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !allKinds[k] {
		return "", fmt.Errorf("unknown notion property kind %q", s)
	}
	return k, nil
}

// ReadOnly reports whether the kind exists only on the inbound path.
func (k Kind) ReadOnly() bool {
	switch k {
	case KindRollup, KindFormula, KindCreatedTime, KindLastEditedTime:
		return true
	}
	return false
}

// RichText is one text run of a title or rich_text property.
type RichText struct {
	Type      string `json:"type,omitempty"`
	Text      *Text  `json:"text,omitempty"`
	PlainText string `json:"plain_text,omitempty"`
}

type Text struct {
	Content string `json:"content"`
}

type SelectOption struct {
	Name string `json:"name"`
}

type DateValue struct {
	Start string `json:"start"`
	End   string `json:"end,omitempty"`
}

type PageReference struct {
	ID string `json:"id"`
}

type RollupValue struct {
	Type   string   `json:"type"`
	Number *float64 `json:"number,omitempty"`
	Array  []any    `json:"array,omitempty"`
}

type FormulaValue struct {
	Type    string   `json:"type"`
	String  *string  `json:"string,omitempty"`
	Number  *float64 `json:"number,omitempty"`
	Boolean *bool    `json:"boolean,omitempty"`
}

// Property is a property object as returned by the Notion API. Exactly one
// payload field is set, discriminated by Type.
type Property struct {
	ID             string          `json:"id,omitempty"`
	Type           string          `json:"type,omitempty"`
	Title          []RichText      `json:"title,omitempty"`
	RichText       []RichText      `json:"rich_text,omitempty"`
	Number         *float64        `json:"number,omitempty"`
	Date           *DateValue      `json:"date,omitempty"`
	Checkbox       *bool           `json:"checkbox,omitempty"`
	Select         *SelectOption   `json:"select,omitempty"`
	MultiSelect    []SelectOption  `json:"multi_select,omitempty"`
	URL            *string         `json:"url,omitempty"`
	Email          *string         `json:"email,omitempty"`
	PhoneNumber    *string         `json:"phone_number,omitempty"`
	Relation       []PageReference `json:"relation,omitempty"`
	Rollup         *RollupValue    `json:"rollup,omitempty"`
	Formula        *FormulaValue   `json:"formula,omitempty"`
	CreatedTime    string          `json:"created_time,omitempty"`
	LastEditedTime string          `json:"last_edited_time,omitempty"`
}

// Page is a record in a Notion database.
type Page struct {
	ID             string              `json:"id"`
	CreatedTime    string              `json:"created_time,omitempty"`
	LastEditedTime string              `json:"last_edited_time,omitempty"`
	Archived       bool                `json:"archived,omitempty"`
	Properties     map[string]Property `json:"properties"`
}

// FieldMapping ties one table column to one Notion property for the
// record <-> properties converters.
type FieldMapping struct {
	Column   string
	Property string
	Kind     Kind
}
