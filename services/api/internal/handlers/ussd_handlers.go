package handlers

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"slices"

	"github.com/diagnosis/afyaplus/pkg/logger"
	"github.com/diagnosis/afyaplus/services/api/internal/domain"
)

// USSD handles POST /subscriptions/ussd. The gateway has no notion of HTTP
// failure, so every outcome is a 200 text/plain CON/END reply.
func (h *Handlers) USSD(w http.ResponseWriter, r *http.Request) {
	reply := domain.USSDMsgError

	session, err := parseUSSDSession(w, r)
	switch {
	case err != nil:
		logger.WarnContext(r.Context(), "Unreadable USSD callback", logger.Err(err))
	case !h.servesCode(session.ServiceCode):
		logger.WarnContext(r.Context(), "USSD callback for foreign service code", "service_code", session.ServiceCode)
	default:
		reply = h.ussd.Handle(r.Context(), session)
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, reply)
}

func parseUSSDSession(w http.ResponseWriter, r *http.Request) (domain.USSDSession, error) {
	var session domain.USSDSession

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&session)
		return session, err
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		return session, err
	}
	session.SessionID = r.PostForm.Get("sessionId")
	session.ServiceCode = r.PostForm.Get("serviceCode")
	session.PhoneNumber = r.PostForm.Get("phoneNumber")
	session.Text = r.PostForm.Get("text")
	return session, nil
}

func (h *Handlers) servesCode(code string) bool {
	return len(h.opts.USSDServiceCodes) == 0 || slices.Contains(h.opts.USSDServiceCodes, code)
}
