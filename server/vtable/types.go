// Copyright 2023 CeresDB Project Authors. Licensed under Apache-2.0.

package vtable

import (
	"bytes"
	"fmt"
	"math"

	"github.com/google/go-cmp/cmp"
)

type ColumnID int32

// HybridTime is the logical timestamp of a consistent read snapshot.
type HybridTime uint64

// Value holds a scalar cell: string, int64, float64, bool, []byte or nil.
type Value = any

type ColumnSchema struct {
	ID   ColumnID `json:"id"`
	Name string   `json:"name"`
}

type Schema struct {
	Columns []ColumnSchema `json:"columns"`
}

func NewSchema(columns ...ColumnSchema) Schema {
	return Schema{Columns: columns}
}

// FindColumnByID returns the position of the column in the schema.
func (s Schema) FindColumnByID(id ColumnID) (int, bool) {
	for i, column := range s.Columns {
		if column.ID == id {
			return i, true
		}
	}
	return -1, false
}

func (s Schema) FindColumnByName(name string) (ColumnSchema, bool) {
	for _, column := range s.Columns {
		if column.Name == name {
			return column, true
		}
	}
	return ColumnSchema{}, false
}

func (s Schema) NumColumns() int {
	return len(s.Columns)
}

type Row struct {
	Values []Value `json:"values"`
}

func NewRow(values ...Value) Row {
	return Row{Values: values}
}

func (r Row) Column(idx int) Value {
	return r.Values[idx]
}

type RowBlock struct {
	Schema Schema
	Rows   []Row
}

func NewRowBlock(schema Schema) *RowBlock {
	return &RowBlock{Schema: schema}
}

func (b *RowBlock) Append(row Row) {
	b.Rows = append(b.Rows, row)
}

type ColumnValue struct {
	ColumnID ColumnID
	Value    Value
}

type ReadRequest struct {
	// HashedColumnValues are exact-match predicates on partition key columns, evaluated in order.
	HashedColumnValues []ColumnValue
	Where              *Condition
}

type TransactionContext struct {
	TransactionID string
	ReadTime      HybridTime
}

// ValueEqual compares two cells, integers of different widths are compared by value.
func ValueEqual(a, b Value) bool {
	return cmp.Equal(normalize(a), normalize(b))
}

// compareValues orders two cells of the same kind.
func compareValues(a, b Value) (int, error) {
	a, b = normalize(a), normalize(b)
	switch x := a.(type) {
	case int64:
		if y, ok := b.(int64); ok {
			return compareOrdered(x, y), nil
		}
	case float64:
		if y, ok := b.(float64); ok {
			return compareOrdered(x, y), nil
		}
	case string:
		if y, ok := b.(string); ok {
			return compareOrdered(x, y), nil
		}
	case []byte:
		if y, ok := b.([]byte); ok {
			return bytes.Compare(x, y), nil
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0, nil
			case !x:
				return -1, nil
			default:
				return 1, nil
			}
		}
	}
	return 0, ErrInvalidCondition.WithCausef("incomparable values %s and %s", describe(a), describe(b))
}

func compareOrdered[T int64 | float64 | string](x, y T) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

func normalize(v Value) Value {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint:
		if uint64(x) <= math.MaxInt64 {
			return int64(x)
		}
		return uint64(x)
	case uint64:
		if x <= math.MaxInt64 {
			return int64(x)
		}
	case float32:
		return float64(x)
	}
	return v
}

func describe(v Value) string {
	return fmt.Sprintf("%v(%T)", v, v)
}
