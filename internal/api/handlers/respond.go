package handlers

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"net/url"

	"github.com/rs/zerolog/log"
)

const maxBodyBytes = 1 << 20

// formBinder is implemented by payloads that can also arrive as an HTML form.
type formBinder interface {
	bindForm(url.Values)
}

// decodePayload fills dst from a JSON body or, for any other content type,
// from the parsed form.
func decodePayload(w http.ResponseWriter, r *http.Request, dst formBinder) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
			return errors.New("invalid request body")
		}
		return nil
	}
	if err := r.ParseForm(); err != nil {
		return errors.New("invalid form body")
	}
	dst.bindForm(r.PostForm)
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeMessage(w http.ResponseWriter, status int, msg, next string) {
	body := map[string]string{"message": msg}
	if next != "" {
		body["next"] = next
	}
	writeJSON(w, status, body)
}
