// Package repository is the single data-access path for polymorphic
// documents. Every query is augmented with the tenant, type, and soft-delete
// filters; every mutation emits an audit event. Routes and services never
// talk to the database directly.
package repository

import (
	"encoding/json"
	"time"
)

// Reserved document fields. The open payload map may not shadow them and
// update patches may not touch the immutable subset.
const (
	FieldID        = "id"
	FieldTenantID  = "tenantId"
	FieldType      = "type"
	FieldDeleted   = "deleted"
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"
	FieldCreatedBy = "createdBy"
	FieldUpdatedBy = "updatedBy"
	FieldDeletedAt = "deletedAt"
	FieldDeletedBy = "deletedBy"
)

// immutableFields may never appear in an update patch.
var immutableFields = []string{FieldID, FieldTenantID, FieldType, FieldCreatedAt}

var reservedFields = map[string]bool{
	FieldID: true, FieldTenantID: true, FieldType: true, FieldDeleted: true,
	FieldCreatedAt: true, FieldUpdatedAt: true, FieldCreatedBy: true,
	FieldUpdatedBy: true, FieldDeletedAt: true, FieldDeletedBy: true,
}

// Document is a polymorphic tenant-scoped record. Type-specific payload
// lives in Fields, stored inline beside the envelope fields.
type Document struct {
	ID        string     `bson:"id"`
	TenantID  string     `bson:"tenantId"`
	Type      string     `bson:"type"`
	Deleted   bool       `bson:"deleted"`
	CreatedAt time.Time  `bson:"createdAt"`
	UpdatedAt time.Time  `bson:"updatedAt"`
	CreatedBy string     `bson:"createdBy,omitempty"`
	UpdatedBy string     `bson:"updatedBy,omitempty"`
	DeletedAt *time.Time `bson:"deletedAt,omitempty"`
	DeletedBy string     `bson:"deletedBy,omitempty"`

	Fields map[string]interface{} `bson:",inline"`
}

// AsMap flattens the document into a single map, used for audit snapshots
// and the vector pipeline's semantic projection. A nil document flattens to
// nil.
func (d *Document) AsMap() map[string]interface{} {
	if d == nil {
		return nil
	}
	out := make(map[string]interface{}, len(d.Fields)+10)
	for k, v := range d.Fields {
		out[k] = v
	}
	out[FieldID] = d.ID
	out[FieldTenantID] = d.TenantID
	out[FieldType] = d.Type
	out[FieldDeleted] = d.Deleted
	out[FieldCreatedAt] = d.CreatedAt
	out[FieldUpdatedAt] = d.UpdatedAt
	if d.CreatedBy != "" {
		out[FieldCreatedBy] = d.CreatedBy
	}
	if d.UpdatedBy != "" {
		out[FieldUpdatedBy] = d.UpdatedBy
	}
	if d.DeletedAt != nil {
		out[FieldDeletedAt] = *d.DeletedAt
	}
	if d.DeletedBy != "" {
		out[FieldDeletedBy] = d.DeletedBy
	}
	return out
}

// Field returns a payload value.
func (d *Document) Field(name string) (interface{}, bool) {
	v, ok := d.Fields[name]
	return v, ok
}

// StringField returns a payload value as a string, or "" when absent or of
// another type.
func (d *Document) StringField(name string) string {
	if v, ok := d.Fields[name]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// MarshalJSON flattens the envelope and payload into one JSON object, the
// wire shape clients see.
func (d *Document) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.AsMap())
}

// UnmarshalJSON splits a flat JSON object back into envelope and payload.
func (d *Document) UnmarshalJSON(data []byte) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*d = Document{Fields: make(map[string]interface{})}
	for k, v := range raw {
		if !reservedFields[k] {
			d.Fields[k] = v
			continue
		}
		switch k {
		case FieldID:
			d.ID, _ = v.(string)
		case FieldTenantID:
			d.TenantID, _ = v.(string)
		case FieldType:
			d.Type, _ = v.(string)
		case FieldDeleted:
			d.Deleted, _ = v.(bool)
		case FieldCreatedBy:
			d.CreatedBy, _ = v.(string)
		case FieldUpdatedBy:
			d.UpdatedBy, _ = v.(string)
		case FieldDeletedBy:
			d.DeletedBy, _ = v.(string)
		case FieldCreatedAt:
			if ts, ok := parseTime(v); ok {
				d.CreatedAt = ts
			}
		case FieldUpdatedAt:
			if ts, ok := parseTime(v); ok {
				d.UpdatedAt = ts
			}
		case FieldDeletedAt:
			if ts, ok := parseTime(v); ok {
				d.DeletedAt = &ts
			}
		}
	}
	return nil
}

func parseTime(v interface{}) (time.Time, bool) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
