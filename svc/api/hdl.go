package api

import (
	"encoding/json"
	"hastebin/cfg"
	"hastebin/pkg/domain"
	"hastebin/svc/svc"
	"hastebin/svc/util"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/hlog"
)

const banner = "hastebin at your service"

var errTrailingData = errors.New("unexpected data after JSON body")

type Hdl struct {
	paste *svc.Paste
	cfg   *cfg.Cfg
}
type CreateReq struct {
	Content   domain.Content `json:"content"`
	Signature *string        `json:"signature"`
}

func (h *Hdl) Index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, banner)
}

// CreatePaste answers with the new id as plain text.
func (h *Hdl) CreatePaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	contentType := r.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType != "application/json" {
		log.Warn().
			Str("content_type", contentType).
			Str("request_id", requestID).
			Msg("invalid Content-Type header")
		writeErr(w, domain.ErrMediaType, requestID)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxBodySize)
	var req CreateReq
	dec := json.NewDecoder(r.Body)
	err = dec.Decode(&req)
	if err == nil {
		if extra := dec.Decode(&struct{}{}); extra != io.EOF {
			err = errors.Wrap(errTrailingData, "create payload")
			var tooLarge *http.MaxBytesError
			if errors.As(extra, &tooLarge) {
				err = extra
			}
		}
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			log.Warn().Int64("limit", tooLarge.Limit).Msg("request body too large")
			writeErr(w, domain.ErrBodyTooLarge, requestID)
		case err == io.EOF:
			log.Warn().Msg("empty request body")
			writeErr(w, domain.ErrInvalidRequest, requestID)
		default:
			log.Warn().Err(err).Msg("invalid request")
			writeErr(w, domain.ErrInvalidRequest, requestID)
		}
		return
	}
	if req.Content == nil || req.Signature == nil {
		log.Warn().
			Bool("has_content", req.Content != nil).
			Bool("has_signature", req.Signature != nil).
			Msg("missing field")
		writeErr(w, domain.ErrInvalidRequest, requestID)
		return
	}
	paste, err := h.paste.Create(r.Context(), domain.CreateParams{
		Content:   req.Content,
		Signature: *req.Signature,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to create paste")
		writeErr(w, domain.ErrInternalServer, requestID)
		return
	}
	log.Info().
		Int64("paste_id", paste.ID).
		Int("pairs", len(paste.Content)).
		Msg("paste created")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, strconv.FormatInt(paste.ID, 10))
}

// FetchPaste answers with the paste as JSON, or null when the id is unknown.
func (h *Hdl) FetchPaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Warn().Str("paste_id", raw).Msg("invalid paste id")
		writeErr(w, domain.ErrInvalidID, requestID)
		return
	}
	paste, err := h.paste.Fetch(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Int64("paste_id", id).Msg("fetch failed")
		writeErr(w, domain.ErrInternalServer, requestID)
		return
	}
	if paste == nil {
		log.Info().Int64("paste_id", id).Msg("paste not found")
	} else {
		log.Info().
			Int64("paste_id", id).
			Str("client_ip", util.RedactIP(r.RemoteAddr)).
			Int64("views", paste.Views).
			Msg("paste retrieved")
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(paste)
}
func writeErr(w http.ResponseWriter, err error, requestID string) {
	statusCode := domain.Status(err)
	errorMsg := domain.ToResp(err).Error.Msg
	if statusCode >= 500 {
		errorMsg = "internal server error"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error":      errorMsg,
		"request_id": requestID,
	})
}
