package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"wbh-go/internal/wbh"
)

// chunkView omits the per-chunk key material.
type chunkView struct {
	Index        int       `json:"index"`
	Size         int64     `json:"size"`
	Filename     string    `json:"filename"`
	Checksum     string    `json:"checksum"`
	ChecksumType string    `json:"checksum_type"`
	Encryption   string    `json:"encryption"`
	MessageID    string    `json:"msg_id"`
	BlobID       string    `json:"file_id"`
	UploadedAt   time.Time `json:"uploaded_at"`
}

func (s *Server) listBlackHoles(w http.ResponseWriter, r *http.Request) {
	bhs, err := s.catalog.GetBlackHoles(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if bhs == nil {
		bhs = []*wbh.CatalogBlackHole{}
	}
	writeJSON(w, http.StatusOK, bhs)
}

func (s *Server) getBlackHole(w http.ResponseWriter, r *http.Request) {
	bh, ok := s.blackHole(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, bh)
}

func (s *Server) listItems(w http.ResponseWriter, r *http.Request) {
	bh, ok := s.blackHole(w, r)
	if !ok {
		return
	}
	var parent int64
	if p := r.URL.Query().Get("parent"); p != "" {
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil || id < 0 {
			http.Error(w, "invalid parent id", http.StatusBadRequest)
			return
		}
		parent = id
	}
	items, err := s.catalog.GetChildren(r.Context(), bh.ID, parent)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if items == nil {
		items = []*wbh.CatalogItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) getItem(w http.ResponseWriter, r *http.Request) {
	item, ok := s.item(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) listChunks(w http.ResponseWriter, r *http.Request) {
	item, ok := s.item(w, r)
	if !ok {
		return
	}
	chunks, err := s.catalog.GetChunks(r.Context(), item.BlackHoleID, item.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]chunkView, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, chunkView{
			Index:        c.Index,
			Size:         c.Size,
			Filename:     c.Filename,
			Checksum:     c.Checksum,
			ChecksumType: c.ChecksumType.String(),
			Encryption:   c.Encryption.String(),
			MessageID:    c.MessageID,
			BlobID:       c.BlobID,
			UploadedAt:   c.UploadedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) blackHole(w http.ResponseWriter, r *http.Request) (*wbh.CatalogBlackHole, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid blackhole id", http.StatusBadRequest)
		return nil, false
	}
	bh, err := s.catalog.GetBlackHole(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return nil, false
	}
	if bh == nil {
		http.Error(w, "blackhole not found", http.StatusNotFound)
		return nil, false
	}
	return bh, true
}

func (s *Server) item(w http.ResponseWriter, r *http.Request) (*wbh.CatalogItem, bool) {
	bh, ok := s.blackHole(w, r)
	if !ok {
		return nil, false
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "itemID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid item id", http.StatusBadRequest)
		return nil, false
	}
	item, err := s.catalog.GetItem(r.Context(), bh.ID, id)
	if err != nil {
		s.fail(w, r, err)
		return nil, false
	}
	if item == nil {
		http.Error(w, "item not found", http.StatusNotFound)
		return nil, false
	}
	return item, true
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error("catalog query failed", "path", r.URL.Path, "error", err)
	http.Error(w, "catalog unavailable", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
