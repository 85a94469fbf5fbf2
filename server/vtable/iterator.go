// Copyright 2023 CeresDB Project Authors. Licensed under Apache-2.0.

package vtable

// Iterator yields the rows of a materialized virtual table block.
// It is not safe for concurrent use.
type Iterator struct {
	block *RowBlock
	next  int
}

func newIterator(block *RowBlock) *Iterator {
	return &Iterator{block: block}
}

func (it *Iterator) HasNext() bool {
	return it.next < len(it.block.Rows)
}

// NextRow returns the next row restricted to the projection columns, in projection order.
// An empty projection returns the row as stored.
func (it *Iterator) NextRow(projection Schema) (Row, error) {
	if !it.HasNext() {
		return Row{}, ErrIteratorExhausted
	}
	row := it.block.Rows[it.next]
	it.next++

	if projection.NumColumns() == 0 {
		return row, nil
	}
	projected := make([]Value, 0, projection.NumColumns())
	for _, column := range projection.Columns {
		idx, ok := it.block.Schema.FindColumnByID(column.ID)
		if !ok || idx >= len(row.Values) {
			return Row{}, ErrColumnNotFound.WithCausef("projection column:%d", column.ID)
		}
		projected = append(projected, row.Column(idx))
	}
	return Row{Values: projected}, nil
}

// Len is the number of rows left.
func (it *Iterator) Len() int {
	return len(it.block.Rows) - it.next
}

func (it *Iterator) Schema() Schema {
	return it.block.Schema
}
