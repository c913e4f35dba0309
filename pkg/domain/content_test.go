package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContentRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		content Content
	}{
		{"empty", Content{}},
		{"single", Content{NewPair("main.go", "package main")}},
		{"ordered", Content{NewPair("b", "2"), NewPair("a", "1"), NewPair("c", "3")}},
		{"duplicate keys", Content{NewPair("a", "1"), NewPair("a", "2"), NewPair("a", "1")}},
		{"empty strings", Content{NewPair("", ""), NewPair("x", "")}},
		{"unicode and escapes", Content{NewPair("ünï", "line1\nline2\t\"quoted\" <b>&amp;</b>")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := EncodeContent(tt.content)
			require.NoError(t, err)
			got, err := DecodeContent(enc)
			require.NoError(t, err)
			require.True(t, tt.content.Equal(got), "got %v, want %v", got, tt.content)
			require.NotNil(t, got)
		})
	}
}

func TestContentEncodingShape(t *testing.T) {
	enc, err := EncodeContent(Content{NewPair("a", "1"), NewPair("b", "2")})
	require.NoError(t, err)
	require.Equal(t, `[["a","1"],["b","2"]]`, enc)

	enc, err = EncodeContent(nil)
	require.NoError(t, err)
	require.Equal(t, `[]`, enc)
}

func TestContentRejectsMalformed(t *testing.T) {
	bad := []string{
		`null`,
		`{"a":"1"}`,
		`[["a"]]`,
		`[["a","1","2"]]`,
		`[["a",1]]`,
		`[["a",null]]`,
		`[null]`,
		`"text"`,
	}
	for _, in := range bad {
		_, err := DecodeContent(in)
		require.Error(t, err, "input %s", in)
	}
}

func TestPasteJSON(t *testing.T) {
	p := Paste{
		ID:        42,
		Content:   Content{NewPair("a", "1")},
		Signature: "sig1",
		Views:     3,
		Timestamp: 1700000000,
	}
	b, err := json.Marshal(p)
	require.NoError(t, err)
	require.JSONEq(t, `{"id":42,"content":[["a","1"]],"signature":"sig1","views":3,"timestamp":1700000000}`, string(b))

	body := p.Body()
	require.Equal(t, int64(0), body.Views)
	require.Equal(t, p.ID, body.ID)
	require.Equal(t, p.Signature, body.Signature)
	require.Equal(t, p.Timestamp, body.Timestamp)
}

func TestErrStatus(t *testing.T) {
	require.Equal(t, 400, Status(ErrInvalidID))
	require.Equal(t, 500, Status(json.Unmarshal([]byte("{"), &struct{}{})))
	require.Equal(t, "INVALID_REQUEST", ToResp(ErrInvalidRequest).Error.Code)
	require.Equal(t, "INTERNAL_ERROR", ToResp(nil).Error.Code)
}

func TestContentClone(t *testing.T) {
	require.Nil(t, Content(nil).Clone())
	empty := Content{}.Clone()
	require.NotNil(t, empty)
	require.Empty(t, empty)

	orig := Content{NewPair("a", "1")}
	c := orig.Clone()
	c[0] = NewPair("b", "2")
	require.Equal(t, NewPair("a", "1"), orig[0])

	p := &Paste{ID: 1, Content: orig}
	body := p.Body()
	body.Content[0] = NewPair("c", "3")
	require.Equal(t, NewPair("a", "1"), p.Content[0])
}
