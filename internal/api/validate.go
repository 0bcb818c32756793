package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"deskhooks/internal/store"
)

const maxBodyBytes = 1 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if err == io.EOF {
			return fmt.Errorf("request body is empty")
		}
		return err
	}
	return nil
}

// parsePage reads page and per_page; missing values fall back to defaults.
func parsePage(r *http.Request) (store.Page, error) {
	var p store.Page
	q := r.URL.Query()
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return p, fmt.Errorf("page must be a positive integer")
		}
		p.Page = n
	}
	if v := q.Get("per_page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > store.MaxPerPage {
			return p, fmt.Errorf("per_page must be between 1 and %d", store.MaxPerPage)
		}
		p.PerPage = n
	}
	return p.Normalize(), nil
}

type emitRequest struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}
