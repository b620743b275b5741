package api

import (
	"fmt"
	"net/http"
	"strconv"
)

const maxArchiveLimit = 100_000

// ArchiveHandler exports archived ratings and session marks.
type ArchiveHandler struct {
	reader ArchiveReader
}

// NewArchiveHandler creates a new archive handler. reader may be nil.
func NewArchiveHandler(reader ArchiveReader) *ArchiveHandler {
	return &ArchiveHandler{reader: reader}
}

// HandleGetArchive handles GET /sessions/{id}/archive?limit=N.
// limit caps the number of most recent ratings returned; 0 or absent means all.
func (h *ArchiveHandler) HandleGetArchive(w http.ResponseWriter, r *http.Request) {
	if h.reader == nil {
		writeError(w, http.StatusNotFound, "archive_disabled", ErrArchiveDisabled)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > maxArchiveLimit {
			writeError(w, http.StatusBadRequest, "bad_request",
				fmt.Errorf("%w: limit must be an integer in [0, %d]", ErrBadRequest, maxArchiveLimit))
			return
		}
		limit = n
	}

	export, err := h.reader.List(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "archive_error", err)
		return
	}
	writeJSON(w, http.StatusOK, export)
}
