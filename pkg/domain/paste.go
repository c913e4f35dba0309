package domain

type Paste struct {
	ID        int64   `json:"id"`
	Content   Content `json:"content"`
	Signature string  `json:"signature"`
	Views     int64   `json:"views"`
	Timestamp int64   `json:"timestamp"`
}

// Body returns a copy of the immutable part of the paste with views zeroed. The copy
// shares no memory with p.
func (p *Paste) Body() *Paste {
	return &Paste{
		ID:        p.ID,
		Content:   p.Content.Clone(),
		Signature: p.Signature,
		Timestamp: p.Timestamp,
	}
}

type CreateParams struct {
	Content   Content
	Signature string
}
