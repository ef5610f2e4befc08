package models

import (
	"bytes"
	"encoding/json"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// EnvelopeVersion is written into every envelope sealed by this build.
const EnvelopeVersion = "1.0.0"

// SealedText is the ciphertext envelope stored in place of a free-text field.
// IV and Content are hex encoded.
type SealedText struct {
	IV          string `bson:"iv,omitempty" json:"iv,omitempty"`
	Content     string `bson:"content,omitempty" json:"content,omitempty"`
	Version     string `bson:"version,omitempty" json:"version,omitempty"`
	IsEncrypted bool   `bson:"isEncrypted" json:"isEncrypted"`
}

// WellFormed reports whether the envelope carries both an IV and a ciphertext.
func (s SealedText) WellFormed() bool {
	return s.IV != "" && s.Content != ""
}

// Text is a free-text field that is either plain (legacy rows, empty values)
// or sealed. On the wire it is a JSON string or an envelope object.
type Text struct {
	Plain  string
	Sealed *SealedText
}

// PlainText wraps an unsealed value.
func PlainText(s string) Text {
	return Text{Plain: s}
}

// Seal wraps an envelope.
func Seal(s SealedText) Text {
	return Text{Sealed: &s}
}

func (t Text) IsSealed() bool {
	return t.Sealed != nil
}

func (t Text) IsEmpty() bool {
	return t.Sealed == nil && t.Plain == ""
}

// Equal compares two values structurally.
func (t Text) Equal(o Text) bool {
	if t.IsSealed() != o.IsSealed() {
		return false
	}
	if t.IsSealed() {
		return *t.Sealed == *o.Sealed
	}
	return t.Plain == o.Plain
}

func (t Text) MarshalJSON() ([]byte, error) {
	if t.Sealed != nil {
		return json.Marshal(t.Sealed)
	}
	return json.Marshal(t.Plain)
}

func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*t = Text{}
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = PlainText(s)
		return nil
	case len(data) > 0 && data[0] == '{':
		var s SealedText
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode sealed text: %w", err)
		}
		*t = Seal(s)
		return nil
	}
	return fmt.Errorf("text field: unexpected JSON %q", data)
}

func (t Text) MarshalBSONValue() (bsontype.Type, []byte, error) {
	if t.Sealed != nil {
		return bson.MarshalValue(t.Sealed)
	}
	return bson.MarshalValue(t.Plain)
}

func (t *Text) UnmarshalBSONValue(typ bsontype.Type, data []byte) error {
	raw := bson.RawValue{Type: typ, Value: data}
	switch typ {
	case bsontype.Null, bsontype.Undefined:
		*t = Text{}
	case bsontype.String:
		*t = PlainText(raw.StringValue())
	case bsontype.EmbeddedDocument:
		var s SealedText
		if err := raw.Unmarshal(&s); err != nil {
			return fmt.Errorf("decode sealed text: %w", err)
		}
		*t = Seal(s)
	default:
		return fmt.Errorf("text field: unexpected BSON type %s", typ)
	}
	return nil
}
