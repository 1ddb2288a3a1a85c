package store

import (
	"fmt"
	"reflect"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Op int

const (
	OpEqual Op = iota
	OpArrayContainsAny
)

// IDField addresses the document identifier in a Condition.
const IDField = "_id"

type Condition struct {
	Field string
	Op    Op
	Value any
}

// Filter is a conjunction of conditions. A nil Filter matches every document.
type Filter []Condition

func Where(field string, op Op, value any) Filter {
	return Filter{{Field: field, Op: op, Value: value}}
}

func (f Filter) And(field string, op Op, value any) Filter {
	out := append(Filter{}, f...)
	return append(out, Condition{Field: field, Op: op, Value: value})
}

func (f Filter) Match(doc Document) bool {
	for _, c := range f {
		var v any
		if c.Field == IDField {
			v = doc.ID
		} else {
			v = doc.Fields[c.Field]
		}
		switch c.Op {
		case OpEqual:
			if !valuesEqual(v, c.Value) {
				return false
			}
		case OpArrayContainsAny:
			if !containsAny(v, c.Value) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// BSON renders the filter as a MongoDB query document.
func (f Filter) BSON() bson.M {
	out := bson.M{}
	for _, c := range f {
		switch c.Op {
		case OpEqual:
			out[c.Field] = c.Value
		case OpArrayContainsAny:
			out[c.Field] = bson.M{"$in": toSlice(c.Value)}
		}
	}
	return out
}

func (f Filter) String() string {
	if len(f) == 0 {
		return "ALL"
	}
	return fmt.Sprint([]Condition(f))
}

func valuesEqual(a, b any) bool {
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return as == bs
	}
	return reflect.DeepEqual(a, b)
}

func containsAny(field, wanted any) bool {
	have := toSlice(field)
	for _, w := range toSlice(wanted) {
		for _, h := range have {
			if valuesEqual(h, w) {
				return true
			}
		}
	}
	return false
}

func toSlice(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return t
	case primitive.A:
		return []any(t)
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	default:
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return []any{v}
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out
	}
}
