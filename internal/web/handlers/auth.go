package handlers

import (
	"net/http"

	"github.com/kozaktomas/face-auth/internal/auth"
)

// AuthHandler handles enrollment and login endpoints
type AuthHandler struct {
	service Authenticator
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(svc Authenticator) *AuthHandler {
	return &AuthHandler{service: svc}
}

// EnrollResponse represents an enrollment response
type EnrollResponse struct {
	Owner            string   `json:"owner"`
	AddedCount       int      `json:"added_count"`
	Locators         []string `json:"locators"`
	Embedded         int      `json:"embedded"`
	RemoteRegistered int      `json:"remote_registered"`
}

// LoginResponse represents a login response
type LoginResponse struct {
	Login   string        `json:"login"`
	Outcome *auth.Outcome `json:"outcome"`
}

// Enroll adds the uploaded reference photos to an owner's enrollment.
func (h *AuthHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	if err := parseUpload(w, r); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}

	owner := r.FormValue("owner")
	if owner == "" {
		respondError(w, http.StatusBadRequest, "owner is required")
		return
	}

	images, err := readUploadedFiles(r.MultipartForm.File["files"])
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.service.Enroll(r.Context(), owner, images)
	if err != nil {
		respondServiceError(w, r, "enroll", err)
		return
	}

	respondJSON(w, http.StatusOK, EnrollResponse{
		Owner:            owner,
		AddedCount:       res.AddedCount,
		Locators:         res.Locators,
		Embedded:         res.Embedded,
		RemoteRegistered: res.RemoteRegistered,
	})
}

// Login checks the uploaded live photo against an owner's enrollment. A rejected face is
// still a 200 response; only invalid requests and unknown owners are errors.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if err := parseUpload(w, r); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}

	owner := r.FormValue("owner")
	if owner == "" {
		respondError(w, http.StatusBadRequest, "owner is required")
		return
	}

	var th auth.Thresholds
	var err error
	if th.RemoteConfidence, err = formFloat(r, "remote_threshold"); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if th.LocalDistance, err = formFloat(r, "local_distance"); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	live, err := readUploadedFile(r, "file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "file is required")
		return
	}

	outcome, err := h.service.Login(r.Context(), owner, live, th)
	if err != nil {
		respondServiceError(w, r, "login", err)
		return
	}

	result := "failed"
	if outcome.IsMatch {
		result = "success"
	}
	respondJSON(w, http.StatusOK, LoginResponse{Login: result, Outcome: outcome})
}
