package graph

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// SpecFromMap decodes a graph specification from a generic JSON-parsed map,
// as handed over by an in-process builder. Decoding is weakly typed: JSON
// numbers arrive as float64 and are coerced into the int fields.
func SpecFromMap(m map[string]any) (*GraphSpec, error) {
	var spec GraphSpec
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &spec,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(m); err != nil {
		return nil, fmt.Errorf("invalid graph specification: %w", err)
	}
	return &spec, nil
}
