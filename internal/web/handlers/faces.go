package handlers

import (
	"net/http"
	"strconv"

	"github.com/kozaktomas/face-auth/internal/auth"
	"github.com/kozaktomas/face-auth/internal/constants"
)

// FacesHandler handles detection and analysis endpoints
type FacesHandler struct {
	service      Authenticator
	iouThreshold float64
}

// NewFacesHandler creates a new faces handler. iouThreshold is the default overlap
// required by Analyze; zero uses DefaultFusionIoUThreshold.
func NewFacesHandler(svc Authenticator, iouThreshold float64) *FacesHandler {
	if iouThreshold <= 0 {
		iouThreshold = constants.DefaultFusionIoUThreshold
	}
	return &FacesHandler{service: svc, iouThreshold: iouThreshold}
}

// DetectResponse lists detected faces
type DetectResponse struct {
	Count int                 `json:"count"`
	Faces []auth.DetectedFace `json:"faces"`
}

// AnalyzeResponse lists detected faces with their attributes
type AnalyzeResponse struct {
	Count        int              `json:"count"`
	IoUThreshold float64          `json:"iou_threshold"`
	Faces        []auth.FusedFace `json:"faces"`
}

// Detect returns the faces found in the uploaded photo.
func (h *FacesHandler) Detect(w http.ResponseWriter, r *http.Request) {
	if err := parseUpload(w, r); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}
	image, err := readUploadedFile(r, "file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "file is required")
		return
	}

	faces, err := h.service.DetectOnly(r.Context(), image)
	if err != nil {
		respondServiceError(w, r, "detect", err)
		return
	}
	respondJSON(w, http.StatusOK, DetectResponse{Count: len(faces), Faces: faces})
}

// Analyze returns detected faces fused with the emotions of the attributes provider.
func (h *FacesHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	iou := h.iouThreshold
	if s := r.URL.Query().Get("iou"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || v < 0 || v > 1 {
			respondError(w, http.StatusBadRequest, "iou must be a number between 0 and 1")
			return
		}
		iou = v
	}

	if err := parseUpload(w, r); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}
	image, err := readUploadedFile(r, "file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "file is required")
		return
	}

	faces, err := h.service.Analyze(r.Context(), image, iou)
	if err != nil {
		respondServiceError(w, r, "analyze", err)
		return
	}
	respondJSON(w, http.StatusOK, AnalyzeResponse{Count: len(faces), IoUThreshold: iou, Faces: faces})
}
