package domain

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

// Pair is one named text block. It encodes as a two element JSON array.
type Pair [2]string

func NewPair(name, text string) Pair {
	return Pair{name, text}
}
func (p Pair) Name() string { return p[0] }
func (p Pair) Text() string { return p[1] }
func (p *Pair) UnmarshalJSON(data []byte) error {
	var parts []*string
	if err := json.Unmarshal(data, &parts); err != nil {
		return errors.Wrap(err, "pair")
	}
	if len(parts) != 2 || parts[0] == nil || parts[1] == nil {
		return errors.Errorf("pair must hold exactly two strings, got %s", data)
	}
	p[0], p[1] = *parts[0], *parts[1]
	return nil
}

// Content keeps pairs in submission order; duplicates are legal.
type Content []Pair

func (c Content) MarshalJSON() ([]byte, error) {
	if c == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]Pair(c))
}
func (c *Content) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return errors.New("content must be an array")
	}
	var pairs []Pair
	if err := json.Unmarshal(data, &pairs); err != nil {
		return err
	}
	if pairs == nil {
		pairs = []Pair{}
	}
	*c = pairs
	return nil
}

// Clone keeps nil as nil and empty as empty.
func (c Content) Clone() Content {
	if c == nil {
		return nil
	}
	return append(Content{}, c...)
}
func (c Content) Equal(o Content) bool {
	if len(c) != len(o) {
		return false
	}
	for i := range c {
		if c[i] != o[i] {
			return false
		}
	}
	return true
}

func EncodeContent(c Content) (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", errors.Wrap(err, "encode content")
	}
	return string(b), nil
}
func DecodeContent(s string) (Content, error) {
	var c Content
	if err := json.Unmarshal([]byte(s), &c); err != nil {
		return nil, errors.Wrap(err, "decode content")
	}
	return c, nil
}
