// Package payload pulls normalized payment fields out of gateway JSON whose
// shape differs between the webhook push, the status poll and session init.
//
// Lookups are driven by an ordered rule table: for every field the candidate
// paths are tried in order and the first non-empty scalar wins. Supporting a
// new payload shape means adding a path to the table.
package payload

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// StatusUnknown is reported when no status candidate is present.
const StatusUnknown = "unknown"

type Scope int

const (
	// ScopeData resolves against the "data" object, or the root when there is none.
	ScopeData Scope = iota
	// ScopeRoot resolves against the top-level document.
	ScopeRoot
)

type Path struct {
	Scope Scope
	Keys  []string
}

func Data(expr string) Path {
	return Path{Scope: ScopeData, Keys: strings.Split(expr, ".")}
}

func Root(expr string) Path {
	return Path{Scope: ScopeRoot, Keys: strings.Split(expr, ".")}
}

func (p Path) String() string {
	prefix := "data."
	if p.Scope == ScopeRoot {
		prefix = ""
	}
	return prefix + strings.Join(p.Keys, ".")
}

type Field string

const (
	FieldTracker        Field = "tracker"
	FieldCardType       Field = "card_type"
	FieldLast4          Field = "last4"
	FieldCardholderName Field = "cardholder_name"
	FieldStatus         Field = "status"
)

type Rule struct {
	Field Field
	Paths []Path
}

type Rules []Rule

var DefaultRules = Rules{
	{Field: FieldTracker, Paths: []Path{
		Data("tracker"),
		Data("token"),
		Data("id"),
	}},
	{Field: FieldCardType, Paths: []Path{
		Data("transaction.card.brand"),
		Data("card.brand"),
		Data("payment_method.brand"),
	}},
	{Field: FieldLast4, Paths: []Path{
		Data("transaction.card.last4"),
		Data("card.last4"),
		Data("payment_method.last4"),
	}},
	{Field: FieldCardholderName, Paths: []Path{
		Data("transaction.card.holder_name"),
		Data("card.holder_name"),
		Data("cardholder_name"),
	}},
	{Field: FieldStatus, Paths: []Path{
		Data("state"),
		Data("status"),
		Data("result"),
		Root("event"),
		Root("type"),
	}},
}

// TokenPaths locate the checkout token in a session init response.
var TokenPaths = []Path{
	Root("data.token"),
	Root("token"),
	Root("data.tracker"),
}

// Fields is the normalized view of one gateway document. Nil means absent.
type Fields struct {
	Tracker        *string
	CardType       *string
	CardNumber     *string
	CardholderName *string
	Status         string
	EventType      *string
}

func (f Fields) HasTracker() bool {
	return f.Tracker != nil
}

// Extract applies DefaultRules.
func Extract(doc interface{}) Fields {
	return DefaultRules.Extract(doc)
}

func (rs Rules) Extract(doc interface{}) Fields {
	fields := Fields{Status: StatusUnknown}

	for _, rule := range rs {
		value := FirstString(doc, rule.Paths...)
		if value == nil {
			continue
		}
		switch rule.Field {
		case FieldTracker:
			fields.Tracker = value
		case FieldCardType:
			fields.CardType = value
		case FieldLast4:
			fields.CardNumber = MaskCardNumber(value)
		case FieldCardholderName:
			fields.CardholderName = value
		case FieldStatus:
			fields.Status = *value
		}
	}

	fields.EventType = FirstString(doc, Root("event"), Root("type"))
	return fields
}

// FirstString returns the first path that resolves to a non-empty scalar.
func FirstString(doc interface{}, paths ...Path) *string {
	data := dataNode(doc)
	for _, p := range paths {
		start := data
		if p.Scope == ScopeRoot {
			start = doc
		}
		if s, ok := scalar(walk(start, p.Keys)); ok {
			return &s
		}
	}
	return nil
}

// MaskCardNumber keeps only the last four characters.
func MaskCardNumber(last4 *string) *string {
	if last4 == nil {
		return nil
	}
	digits := strings.TrimSpace(*last4)
	if digits == "" {
		return nil
	}
	if len(digits) > 4 {
		digits = digits[len(digits)-4:]
	}
	masked := "****" + digits
	return &masked
}

// Decode parses raw JSON keeping numbers as json.Number so ids and card
// digits survive without float rounding.
func Decode(raw []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func dataNode(doc interface{}) interface{} {
	if m, ok := doc.(map[string]interface{}); ok {
		if data, ok := m["data"].(map[string]interface{}); ok {
			return data
		}
	}
	return doc
}

func walk(node interface{}, keys []string) interface{} {
	for _, key := range keys {
		m, ok := node.(map[string]interface{})
		if !ok {
			return nil
		}
		node, ok = m[key]
		if !ok {
			return nil
		}
	}
	return node
}

func scalar(v interface{}) (string, bool) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		return s, s != ""
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	default:
		return "", false
	}
}
