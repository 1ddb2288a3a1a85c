package models

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/harentsoaR/gestorpro/internal/store"
)

// Decode maps a schema-less document onto a typed model.
func Decode(d store.Document, v any) error {
	fields := d.Fields
	if fields == nil {
		fields = bson.M{}
	}
	raw, err := bson.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode document %s: %w", d.ID, err)
	}
	if err := bson.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode document %s: %w", d.ID, err)
	}
	return nil
}

// Encode maps a typed model to document fields.
func Encode(v any) (bson.M, error) {
	raw, err := bson.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode model: %w", err)
	}
	var out bson.M
	if err := bson.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	return out, nil
}
