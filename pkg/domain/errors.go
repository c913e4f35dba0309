package domain

import (
	"net/http"

	"github.com/pkg/errors"
)

var (
	ErrPasteNotFound  = NewErr("PASTE_NOT_FOUND", "paste not found", http.StatusNotFound)
	ErrInvalidRequest = NewErr("INVALID_REQUEST", "invalid request", http.StatusBadRequest)
	ErrInvalidID      = NewErr("INVALID_ID", "invalid paste id", http.StatusBadRequest)
	ErrDuplicateID    = NewErr("DUPLICATE_ID", "paste id already taken", http.StatusInternalServerError)
	ErrInternalServer = NewErr("INTERNAL_ERROR", "internal error", http.StatusInternalServerError)
	ErrMediaType      = NewErr("UNSUPPORTED_MEDIA_TYPE", "expected Content-Type: application/json", http.StatusUnsupportedMediaType)
	ErrBodyTooLarge   = NewErr("BODY_TOO_LARGE", "request body too large", http.StatusRequestEntityTooLarge)
)

type Err struct {
	Code   string `json:"code"`
	Msg    string `json:"message"`
	Status int    `json:"-"`
}

func (e *Err) Error() string { return e.Msg }
func NewErr(code, msg string, status int) *Err {
	return &Err{Code: code, Msg: msg, Status: status}
}

type ErrResp struct {
	Error ErrDetail `json:"error"`
}
type ErrDetail struct {
	Code string `json:"code"`
	Msg  string `json:"message"`
}

func asErr(err error) (*Err, bool) {
	var e *Err
	if errors.As(err, &e) {
		return e, true
	}
	if e, ok := errors.Cause(err).(*Err); ok {
		return e, true
	}
	return nil, false
}
func ToResp(err error) ErrResp {
	if e, ok := asErr(err); ok {
		return ErrResp{Error: ErrDetail{Code: e.Code, Msg: e.Msg}}
	}
	return ErrResp{Error: ErrDetail{Code: "INTERNAL_ERROR", Msg: "internal error"}}
}
func Status(err error) int {
	if e, ok := asErr(err); ok {
		return e.Status
	}
	return http.StatusInternalServerError
}
