package petri

import (
	"bytes"
	"encoding/gob"
)

// Marking is the token state of one process instance: which places of the
// compiled net currently hold a token. It is the serializable half of an
// instance, stored alongside the business state.
type Marking struct {
	Tokens map[int]int
}

// NewMarking returns an empty marking. The initial start token is placed by
// the first Fire pass, not here.
func NewMarking() *Marking {
	return &Marking{Tokens: make(map[int]int)}
}

func (m *Marking) has(place int) bool {
	return m.Tokens[place] > 0
}

func (m *Marking) add(place int) {
	m.Tokens[place]++
}

func (m *Marking) remove(place int) {
	if m.Tokens[place] <= 1 {
		delete(m.Tokens, place)
		return
	}
	m.Tokens[place]--
}

// clear drops every token in the place regardless of count. Used by OR-join
// branch cancellation.
func (m *Marking) clear(place int) {
	delete(m.Tokens, place)
}

// Clone returns an independent copy. The engine fires against a clone so a
// failed pass leaves the persisted marking untouched.
func (m *Marking) Clone() *Marking {
	c := NewMarking()
	for p, n := range m.Tokens {
		c.Tokens[p] = n
	}
	return c
}

// EncodeMarking serializes a marking for storage on the ProcessInfo row.
func EncodeMarking(m *Marking) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeMarking deserializes a marking produced by EncodeMarking.
func DecodeMarking(data []byte) (*Marking, error) {
	m := NewMarking()
	if len(data) == 0 {
		return m, nil
	}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(m); err != nil {
		return nil, err
	}
	if m.Tokens == nil {
		m.Tokens = make(map[int]int)
	}
	return m, nil
}
