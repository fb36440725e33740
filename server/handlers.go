package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	freshtab "github.com/freshtab/freshtab"
	"github.com/freshtab/freshtab/custom"
)

// wallpaperResponse is the API shape for a served wallpaper.
type wallpaperResponse struct {
	URL         string `json:"url"`
	FromCache   bool   `json:"fromCache"`
	IsToday     bool   `json:"isToday"`
	NeedsUpdate bool   `json:"needsUpdate"`
	OriginalURL string `json:"originalUrl,omitempty"`
}

// customItemResponse is the API shape for one custom wallpaper.
type customItemResponse struct {
	custom.Metadata
	ThumbURL string `json:"thumbUrl,omitempty"`
	Active   bool   `json:"active"`
}

func (s *Server) handleWallpaper(w http.ResponseWriter, r *http.Request) {
	res := freshtab.Resolution(chi.URLParam(r, "resolution"))

	result, err := s.wallpapers.Wallpaper(r.Context(), res)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, wallpaperResponse{
		URL:         result.Handle.URL,
		FromCache:   result.FromCache,
		IsToday:     result.IsToday,
		NeedsUpdate: result.NeedsUpdate,
		OriginalURL: result.OriginalURL,
	})
}

func (s *Server) handleForceRefresh(w http.ResponseWriter, r *http.Request) {
	res := freshtab.Resolution(chi.URLParam(r, "resolution"))

	if err := s.wallpapers.ForceRefresh(r.Context(), res); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCustomList(w http.ResponseWriter, r *http.Request) {
	items, err := s.customs.All(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	out := make([]customItemResponse, 0, len(items))
	for _, item := range items {
		out = append(out, customItemResponse{
			Metadata: item.Metadata,
			ThumbURL: item.ThumbURL,
			Active:   item.Active,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCustomUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(custom.MaxUploadBytes); err != nil {
		s.writeError(w, &freshtab.ValidationError{Reason: "malformed multipart request"})
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, &freshtab.ValidationError{Reason: "missing file field"})
		return
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(io.LimitReader(file, custom.MaxUploadBytes+1))
	if err != nil {
		s.writeError(w, err)
		return
	}

	meta, err := s.customs.Upload(r.Context(), header.Filename, header.Header.Get("Content-Type"), data)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, meta)
}

func (s *Server) handleFavorite(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		s.writeError(w, &freshtab.ValidationError{Reason: "missing url"})
		return
	}

	meta, err := s.customs.SaveFromURL(r.Context(), req.URL)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, meta)
}

func (s *Server) handleFavoriteStatus(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		s.writeError(w, &freshtab.ValidationError{Reason: "missing url"})
		return
	}

	id, ok, err := s.customs.IDByURL(r.Context(), url)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"favorited": ok,
		"id":        id,
	})
}

func (s *Server) handleSetCurrent(w http.ResponseWriter, r *http.Request) {
	if err := s.customs.SetCurrent(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearCurrent(w http.ResponseWriter, r *http.Request) {
	if err := s.customs.ClearCurrent(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCustomDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.customs.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCustomDeleteAll(w http.ResponseWriter, r *http.Request) {
	count, err := s.customs.DeleteAll(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": count})
}

// writeError maps domain errors to HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var (
		verr *freshtab.ValidationError
		derr *freshtab.DuplicateError
		nerr *freshtab.NetworkError
	)

	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": verr.Error()})
	case errors.As(err, &derr):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":      derr.Error(),
			"existingId": derr.ExistingID,
		})
	case errors.Is(err, freshtab.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.As(err, &nerr):
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": nerr.Error()})
	default:
		s.logger.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
