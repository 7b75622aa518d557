package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/face-auth/internal/faceapi"
)

// IdentitiesHandler handles identity administration endpoints
type IdentitiesHandler struct {
	service Authenticator
}

// NewIdentitiesHandler creates a new identities handler
func NewIdentitiesHandler(svc Authenticator) *IdentitiesHandler {
	return &IdentitiesHandler{service: svc}
}

// IdentitiesResponse lists the remote person group and the local enrollments
type IdentitiesResponse struct {
	Identities []faceapi.Identity `json:"identities"`
	Owners     []string           `json:"owners"`
}

// EnrollmentResponse describes one local enrollment
type EnrollmentResponse struct {
	Owner            string   `json:"owner"`
	Locators         []string `json:"locators"`
	RemoteIdentityID string   `json:"remote_identity_id,omitempty"`
	UpdatedAt        string   `json:"updated_at,omitempty"`
}

// List returns the remote identities and the locally enrolled owners.
func (h *IdentitiesHandler) List(w http.ResponseWriter, r *http.Request) {
	identities, err := h.service.ListIdentities(r.Context())
	if err != nil {
		respondServiceError(w, r, "list identities", err)
		return
	}
	owners, err := h.service.ListOwners(r.Context())
	if err != nil {
		respondServiceError(w, r, "list owners", err)
		return
	}
	if owners == nil {
		owners = []string{}
	}
	respondJSON(w, http.StatusOK, IdentitiesResponse{Identities: identities, Owners: owners})
}

// Get returns the enrollment of one owner.
func (h *IdentitiesHandler) Get(w http.ResponseWriter, r *http.Request) {
	e, err := h.service.Enrollment(r.Context(), chi.URLParam(r, "owner"))
	if err != nil {
		respondServiceError(w, r, "get enrollment", err)
		return
	}
	resp := EnrollmentResponse{
		Owner:            e.OwnerKey,
		Locators:         e.Locators,
		RemoteIdentityID: e.RemoteIdentityID,
	}
	if !e.UpdatedAt.IsZero() {
		resp.UpdatedAt = e.UpdatedAt.Format("2006-01-02T15:04:05Z07:00")
	}
	respondJSON(w, http.StatusOK, resp)
}

// Delete removes an owner's enrollment, embeddings, photos and remote identity.
func (h *IdentitiesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.RemoveIdentity(r.Context(), chi.URLParam(r, "owner"))
	if err != nil {
		respondServiceError(w, r, "remove identity", err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// Train trains the remote person group and waits for it to finish.
func (h *IdentitiesHandler) Train(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Train(r.Context()); err != nil {
		respondServiceError(w, r, "train", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "trained"})
}
