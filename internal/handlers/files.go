package handlers

import (
	"io"
	"net/http"
	"strconv"
)

const maxUploadBytes = 50 << 20

// UploadFile accepts a multipart upload and returns the stored file record.
// The returned id is attached to a message via the live protocol's file_id.
func (h *Handler) UploadFile(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, "Upload too large or malformed", http.StatusBadRequest)
		return
	}

	part, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Missing file field", http.StatusBadRequest)
		return
	}
	defer part.Close()

	data, err := io.ReadAll(part)
	if err != nil {
		http.Error(w, "Failed to read upload", http.StatusBadRequest)
		return
	}

	file, err := h.files.SaveFile(r.Context(), userID, header.Filename, data,
		formInt(r, "width"), formInt(r, "height"), formInt(r, "duration"))
	if err != nil {
		h.respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, file)
}

// formInt reads an optional positive integer form value, e.g. media
// dimensions the client measured before uploading.
func formInt(r *http.Request, name string) *int {
	raw := r.FormValue(name)
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return nil
	}
	return &v
}
