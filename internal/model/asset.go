package model

import (
	"time"
)

// Asset is an inventory record (host, virtual machine, custom field set) edited by users.
// ID is a primitive.ObjectID for records created by the editor and a string for records
// keyed by their platform id.
type Asset struct {
	ID       interface{}  `json:"id" bson:"_id,omitempty"`
	Kind     string       `json:"kind" bson:"kind"` // "host" | "vm" | "custom"
	Name     string       `json:"name" bson:"name"`
	MOID     string       `json:"moid,omitempty" bson:"moid,omitempty"`
	Fields   []AssetField `json:"fields" bson:"fields"`
	Metadata Metadata     `json:"metadata" bson:"metadata"`
}

// AssetField is a single editable field of an asset. The editing attributes form the
// inline lock of the field.
type AssetField struct {
	ID                 string      `json:"id" bson:"id"`
	Name               string      `json:"name" bson:"name"`
	Value              interface{} `json:"value,omitempty" bson:"value,omitempty"`
	EditingBy          string      `json:"editingBy,omitempty" bson:"editingBy,omitempty"`
	EditingLockExpires *time.Time  `json:"editingLockExpires,omitempty" bson:"editingLockExpires,omitempty"`
}

// Field returns the field with the given id.
func (a *Asset) Field(id string) (*AssetField, bool) {
	for i := range a.Fields {
		if a.Fields[i].ID == id {
			return &a.Fields[i], true
		}
	}
	return nil, false
}
