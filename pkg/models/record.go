// Package models provides the data model shared by the parser, the store and
// the query surface.
//
// Catalog rows have a column set chosen at runtime, so a Record is an ordered
// mapping from column name to a tagged Value, bound to a Schema that is the
// authoritative column list. Secondary datasets with a fixed shape use plain
// structs (CrossmatchRecord, PhotometryRecord).
package models

import (
	"fmt"
)

// Well-known column names.
const (
	ColumnSourceID         = "source_id"
	ColumnRA               = "ra"
	ColumnDec              = "dec"
	ColumnDesignation      = "designation"
	ColumnTmassDesignation = "tmass_designation"
	ColumnAngularDistance  = "angular_distance"
	ColumnDistance         = "distance"
	ColumnJ                = "j_m"
	ColumnH                = "h_m"
	ColumnK                = "k_m"
)

// FieldType is the storage type of a schema field.
type FieldType string

const (
	// FieldTypeString is an opaque string column
	FieldTypeString FieldType = "string"
	// FieldTypeFloat is a nullable float64 column
	FieldTypeFloat FieldType = "float"
)

// Field represents a single column in the schema.
type Field struct {
	// Name is the column identifier
	Name string `json:"name"`

	// Type specifies the storage type
	Type FieldType `json:"type"`
}

// Schema is an ordered, immutable column list with a name index.
type Schema struct {
	fields []Field
	index  map[string]int
}

// NewSchema builds a schema. Identifier columns become strings, every
// other column is a float. Duplicate names keep their first position.
func NewSchema(columns ...string) *Schema {
	fields := make([]Field, 0, len(columns))
	for _, c := range columns {
		t := FieldTypeFloat
		if IsIdentifierColumn(c) || c == ColumnTmassDesignation {
			t = FieldTypeString
		}
		fields = append(fields, Field{Name: c, Type: t})
	}
	return NewSchemaFromFields(fields...)
}

// NewSchemaFromFields builds a schema from explicit fields.
func NewSchemaFromFields(fields ...Field) *Schema {
	s := &Schema{
		fields: make([]Field, 0, len(fields)),
		index:  make(map[string]int, len(fields)),
	}
	for _, f := range fields {
		if _, dup := s.index[f.Name]; dup {
			continue
		}
		s.index[f.Name] = len(s.fields)
		s.fields = append(s.fields, f)
	}
	return s
}

// Len returns the number of columns.
func (s *Schema) Len() int { return len(s.fields) }

// Fields returns a copy of the fields in order.
func (s *Schema) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Names returns the column names in order.
func (s *Schema) Names() []string {
	out := make([]string, len(s.fields))
	for i, f := range s.fields {
		out[i] = f.Name
	}
	return out
}

// Index returns the position of a column.
func (s *Schema) Index(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

// Has reports whether the schema contains a column.
func (s *Schema) Has(name string) bool {
	_, ok := s.index[name]
	return ok
}

// Record is one row bound to a schema. Values are positional.
type Record struct {
	schema *Schema
	values []Value
}

// NewRecord creates a record with every column null.
func NewRecord(schema *Schema) *Record {
	return &Record{schema: schema, values: make([]Value, schema.Len())}
}

// NewRecordWithValues creates a record from positional values.
func NewRecordWithValues(schema *Schema, values []Value) (*Record, error) {
	if len(values) != schema.Len() {
		return nil, fmt.Errorf("record has %d values for %d columns", len(values), schema.Len())
	}
	return &Record{schema: schema, values: values}, nil
}

// Schema returns the record's schema.
func (r *Record) Schema() *Schema { return r.schema }

// Values returns the positional values. The slice must not be modified.
func (r *Record) Values() []Value { return r.values }

// Get returns the value of a column; ok is false if the column is unknown.
func (r *Record) Get(name string) (Value, bool) {
	i, ok := r.schema.index[name]
	if !ok {
		return Null(), false
	}
	return r.values[i], true
}

// Set assigns a column value. Unknown columns are reported as an error.
func (r *Record) Set(name string, v Value) error {
	i, ok := r.schema.index[name]
	if !ok {
		return fmt.Errorf("unknown column %q", name)
	}
	r.values[i] = v
	return nil
}

// Float returns a numeric column value.
func (r *Record) Float(name string) (float64, bool) {
	v, _ := r.Get(name)
	return v.Float()
}

// StringValue returns a column rendered as text.
func (r *Record) StringValue(name string) string {
	v, _ := r.Get(name)
	return v.Text()
}

// NullFloat returns a numeric column; missing and non-numeric values are null.
func (r *Record) NullFloat(name string) NullFloat {
	v, _ := r.Get(name)
	return NullFloatFromValue(v)
}

// SourceID returns the primary identifier.
func (r *Record) SourceID() string {
	return r.StringValue(ColumnSourceID)
}

// RA returns the right ascension in degrees.
func (r *Record) RA() (float64, bool) { return r.Float(ColumnRA) }

// Dec returns the declination in degrees.
func (r *Record) Dec() (float64, bool) { return r.Float(ColumnDec) }

// Map returns the record as a column to Go value map.
func (r *Record) Map() map[string]interface{} {
	out := make(map[string]interface{}, len(r.values))
	for i, f := range r.schema.fields {
		out[f.Name] = r.values[i].Interface()
	}
	return out
}

// Project returns a copy of r over another schema; columns missing from r are null.
func (r *Record) Project(schema *Schema) *Record {
	out := NewRecord(schema)
	for i, f := range schema.fields {
		if v, ok := r.Get(f.Name); ok {
			out.values[i] = v
		}
	}
	return out
}

// Batch is a bounded group of parsed records.
type Batch []*Record
