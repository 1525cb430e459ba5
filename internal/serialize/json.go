package serialize

import (
	jsoniter "github.com/json-iterator/go"
)

// jsonAPI sorts map keys so exports are byte-stable.
var jsonAPI = jsoniter.Config{
	EscapeHTML:             false,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
}.Froze()

// ToJSON serializes v with opts and encodes the result as compact JSON.
func ToJSON(v any, opts Options) ([]byte, error) {
	plain, err := Serialize(v, opts)
	if err != nil {
		return nil, err
	}
	return jsonAPI.Marshal(plain)
}

// ToJSONIndent is ToJSON with indentation.
func ToJSONIndent(v any, opts Options, indent string) ([]byte, error) {
	plain, err := Serialize(v, opts)
	if err != nil {
		return nil, err
	}
	return jsonAPI.MarshalIndent(plain, "", indent)
}
