// Copyright 2023 CeresDB Project Authors. Licensed under Apache-2.0.

package vtable

type Operator string

const (
	OpEQ  Operator = "EQ"
	OpNE  Operator = "NE"
	OpLT  Operator = "LT"
	OpLE  Operator = "LE"
	OpGT  Operator = "GT"
	OpGE  Operator = "GE"
	OpIN  Operator = "IN"
	OpAND Operator = "AND"
)

// Condition is a where-clause tree. Comparison operators use ColumnID and Value,
// IN uses Values and AND uses Operands.
type Condition struct {
	Op       Operator
	ColumnID ColumnID
	Value    Value
	Values   []Value
	Operands []*Condition
}

func Compare(op Operator, columnID ColumnID, value Value) *Condition {
	return &Condition{Op: op, ColumnID: columnID, Value: value}
}

func In(columnID ColumnID, values ...Value) *Condition {
	return &Condition{Op: OpIN, ColumnID: columnID, Values: values}
}

func And(operands ...*Condition) *Condition {
	return &Condition{Op: OpAND, Operands: operands}
}

func (c *Condition) evaluate(schema Schema, row Row) (bool, error) {
	if c.Op == OpAND {
		for _, operand := range c.Operands {
			if operand == nil {
				continue
			}
			ok, err := operand.evaluate(schema, row)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}

	idx, ok := schema.FindColumnByID(c.ColumnID)
	if !ok || idx >= len(row.Values) {
		return false, ErrColumnNotFound.WithCausef("column:%d", c.ColumnID)
	}
	cell := row.Column(idx)

	switch c.Op {
	case OpEQ:
		return ValueEqual(cell, c.Value), nil
	case OpNE:
		return !ValueEqual(cell, c.Value), nil
	case OpIN:
		for _, value := range c.Values {
			if ValueEqual(cell, value) {
				return true, nil
			}
		}
		return false, nil
	case OpLT, OpLE, OpGT, OpGE:
		if cell == nil {
			return false, nil
		}
		cmpResult, err := compareValues(cell, c.Value)
		if err != nil {
			return false, err
		}
		switch c.Op {
		case OpLT:
			return cmpResult < 0, nil
		case OpLE:
			return cmpResult <= 0, nil
		case OpGT:
			return cmpResult > 0, nil
		default:
			return cmpResult >= 0, nil
		}
	}
	return false, ErrInvalidCondition.WithCausef("unknown operator:%s", c.Op)
}

// ScanSpec restricts a scan to rows satisfying its condition, a nil condition scans everything.
type ScanSpec struct {
	condition *Condition
}

func NewScanSpec(condition *Condition) *ScanSpec {
	return &ScanSpec{condition: condition}
}

func (s *ScanSpec) Condition() *Condition {
	return s.condition
}

func (s *ScanSpec) IsUnrestricted() bool {
	return s.condition == nil
}

func (s *ScanSpec) Matches(schema Schema, row Row) (bool, error) {
	if s.condition == nil {
		return true, nil
	}
	return s.condition.evaluate(schema, row)
}
