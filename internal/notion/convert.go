package notion

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Outbound values are plain JSON fragments (map[string]any) because Notion
// distinguishes "clear this property" (explicit null) from "leave it
// alone" (key absent), which typed structs with omitempty cannot express.

// PropertyValue converts one local scalar to the Notion property payload
// for the given kind. Conversion is lenient by contract: malformed input
// coerces to a safe value and never returns an error, so one bad cell
// cannot stall a queue job.
func PropertyValue(value any, kind Kind) map[string]any {
	if value == nil {
		return emptyValue(kind)
	}

	switch kind {
	case KindTitle:
		content := stringify(value)
		if content == "" {
			content = "Untitled"
		}
		return map[string]any{"title": textRuns(content)}

	case KindRichText:
		return map[string]any{"rich_text": textRuns(stringify(value))}

	case KindNumber:
		return map[string]any{"number": toNumber(value)}

	case KindDate:
		if day, ok := toCalendarDate(value); ok {
			return map[string]any{"date": map[string]any{"start": day}}
		}
		return map[string]any{"date": nil}

	case KindCheckbox:
		return map[string]any{"checkbox": toBool(value)}

	case KindSelect:
		return map[string]any{"select": map[string]any{"name": stringify(value)}}

	case KindMultiSelect:
		options := make([]map[string]any, 0)
		for _, item := range toList(value) {
			options = append(options, map[string]any{"name": item})
		}
		return map[string]any{"multi_select": options}

	case KindURL:
		return map[string]any{"url": stringify(value)}

	case KindEmail:
		return map[string]any{"email": stringify(value)}

	case KindPhoneNumber:
		return map[string]any{"phone_number": stringify(value)}

	case KindRelation:
		// The converter only sees the local foreign-key value; resolving
		// it to a page id is the sync manager's job.
		return map[string]any{"relation": []any{}}

	default:
		return map[string]any{"rich_text": textRuns(stringify(value))}
	}
}

// RecordValue converts a Notion property back to a local scalar. A nil
// property yields nil, never an error.
func RecordValue(p *Property, kind Kind) any {
	if p == nil {
		return nil
	}

	switch kind {
	case KindTitle:
		return firstText(p.Title)

	case KindRichText:
		return firstText(p.RichText)

	case KindNumber:
		if p.Number == nil {
			return nil
		}
		return *p.Number

	case KindDate:
		if p.Date == nil || p.Date.Start == "" {
			return nil
		}
		return p.Date.Start

	case KindCheckbox:
		return p.Checkbox != nil && *p.Checkbox

	case KindSelect:
		if p.Select == nil {
			return nil
		}
		return p.Select.Name

	case KindMultiSelect:
		names := make([]string, 0, len(p.MultiSelect))
		for _, opt := range p.MultiSelect {
			names = append(names, opt.Name)
		}
		return strings.Join(names, ",")

	case KindURL:
		return stringOrNil(p.URL)

	case KindEmail:
		return stringOrNil(p.Email)

	case KindPhoneNumber:
		return stringOrNil(p.PhoneNumber)

	case KindRelation:
		if len(p.Relation) == 0 {
			return nil
		}
		return p.Relation[0].ID

	case KindRollup:
		if p.Rollup == nil {
			return nil
		}
		switch p.Rollup.Type {
		case "number":
			if p.Rollup.Number != nil {
				return *p.Rollup.Number
			}
		case "array":
			return p.Rollup.Array
		}
		return nil

	case KindFormula:
		if p.Formula == nil {
			return nil
		}
		switch p.Formula.Type {
		case "string":
			return stringOrNil(p.Formula.String)
		case "number":
			if p.Formula.Number != nil {
				return *p.Formula.Number
			}
		case "boolean":
			if p.Formula.Boolean != nil {
				return *p.Formula.Boolean
			}
		}
		return nil

	case KindCreatedTime:
		return p.CreatedTime

	case KindLastEditedTime:
		return p.LastEditedTime

	default:
		return nil
	}
}

// RecordToProperties builds the full properties payload for one record.
func RecordToProperties(record map[string]any, fields []FieldMapping) map[string]any {
	properties := make(map[string]any, len(fields))
	for _, f := range fields {
		if f.Kind.ReadOnly() {
			continue
		}
		properties[f.Property] = PropertyValue(record[f.Column], f.Kind)
	}
	return properties
}

// PageToRecord converts a Notion page back to a local record, stamped with
// the page id and edit time for reconciliation bookkeeping.
func PageToRecord(page Page, fields []FieldMapping) map[string]any {
	record := make(map[string]any, len(fields)+2)
	for _, f := range fields {
		if prop, ok := page.Properties[f.Property]; ok {
			record[f.Column] = RecordValue(&prop, f.Kind)
		}
	}
	record["notion_page_id"] = page.ID
	record["notion_last_edited"] = page.LastEditedTime
	return record
}

// emptyValue is the defined "empty" shape per kind for absent local
// values. Title stays non-empty because Notion rejects an empty title.
func emptyValue(kind Kind) map[string]any {
	switch kind {
	case KindTitle:
		return map[string]any{"title": textRuns("Untitled")}
	case KindRichText:
		return map[string]any{"rich_text": []any{}}
	case KindNumber:
		return map[string]any{"number": nil}
	case KindDate:
		return map[string]any{"date": nil}
	case KindCheckbox:
		return map[string]any{"checkbox": false}
	case KindSelect:
		return map[string]any{"select": nil}
	case KindMultiSelect:
		return map[string]any{"multi_select": []any{}}
	case KindURL:
		return map[string]any{"url": nil}
	case KindEmail:
		return map[string]any{"email": nil}
	case KindPhoneNumber:
		return map[string]any{"phone_number": nil}
	case KindRelation:
		return map[string]any{"relation": []any{}}
	default:
		return map[string]any{"rich_text": []any{}}
	}
}

func textRuns(content string) []map[string]any {
	return []map[string]any{
		{"type": "text", "text": map[string]any{"content": content}},
	}
}

func firstText(runs []RichText) string {
	if len(runs) == 0 {
		return ""
	}
	if runs[0].Text != nil {
		return runs[0].Text.Content
	}
	return runs[0].PlainText
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case time.Time:
		return t.Format("2006-01-02")
	default:
		return fmt.Sprint(v)
	}
}

func stringOrNil(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// toNumber coerces to float64; malformed input becomes 0 by contract.
func toNumber(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case bool:
		if t {
			return 1
		}
		return 0
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

func toBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	default:
		return v != nil
	}
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// toCalendarDate serializes to calendar-date precision; unparseable input
// reports !ok and the caller emits a null date.
func toCalendarDate(v any) (string, bool) {
	switch t := v.(type) {
	case time.Time:
		return t.Format("2006-01-02"), true
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return "", false
		}
		for _, layout := range dateLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed.Format("2006-01-02"), true
			}
		}
		return "", false
	default:
		return "", false
	}
}

// toList normalizes multi_select input: lists pass through, comma-joined
// strings split (the inverse of the inbound join), anything else wraps
// into a one-element list.
func toList(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			out = append(out, stringify(item))
		}
		return out
	case string:
		if t == "" {
			return nil
		}
		parts := strings.Split(t, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out
	default:
		return []string{stringify(v)}
	}
}
