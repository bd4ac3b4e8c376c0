package persistence

import (
	"bytes"
	"encoding/gob"
)

// EncodeValue serializes arbitrary Go values using encoding/gob.
//
// Values are encoded behind an interface so that DecodeValue can recover
// them without knowing the concrete type. Callers must ensure that custom
// concrete types have been registered with gob.Register.
func EncodeValue(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	iv := v
	if err := enc.Encode(&iv); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeValue deserializes gob data produced by EncodeValue.
func DecodeValue(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	dec := gob.NewDecoder(bytes.NewReader(data))
	var iv any
	if err := dec.Decode(&iv); err != nil {
		return nil, err
	}
	return iv, nil
}

// roundTrip copies a value through the codec. The in-memory store uses it
// so that readers get an independent snapshot: mutations made by a caller
// never leak into stored state before an explicit Update.
func roundTrip(v any) (any, error) {
	data, err := EncodeValue(v)
	if err != nil {
		return nil, err
	}
	return DecodeValue(data)
}
