package cursor

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/kartikbazzad/docstore/apperr"
)

// ResumeToken is the opaque, canonically-JSON-then-base64-encoded payload
// handed back to callers after every batch, letting a disconnected client
// resume a cursor (or, if it was reaped, re-derive an equivalent one).
// Self-describing per spec.md §3/§6: FilterJson/SortJson carry the
// serialized filter and sort specification alongside CreatedAt, so the
// token alone documents the query it was issued for even though
// resumeAfterReap is handed the live filter/sort as call arguments too.
type ResumeToken struct {
	CursorId       string    `json:"cursorId"`
	Collection     string    `json:"collection"`
	LastDocumentId string    `json:"lastDocumentId"`
	CreatedAt      time.Time `json:"createdAt"`
	FilterJson     string    `json:"filterJson"`
	SortJson       string    `json:"sortJson"`
}

// Encode serializes t into its wire representation.
func (t ResumeToken) Encode() (string, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return "", apperr.New(apperr.InvalidArgument, "failed to encode resume token", err)
	}
	return base64.URLEncoding.EncodeToString(raw), nil
}

// DecodeToken parses a token previously produced by Encode.
func DecodeToken(s string) (ResumeToken, error) {
	raw, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return ResumeToken{}, apperr.New(apperr.InvalidArgument, "malformed resume token", err)
	}
	var t ResumeToken
	if err := json.Unmarshal(raw, &t); err != nil {
		return ResumeToken{}, apperr.New(apperr.InvalidArgument, "malformed resume token", err)
	}
	return t, nil
}
