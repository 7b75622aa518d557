package faceapi

import "github.com/kozaktomas/face-auth/internal/facematch"

// faceRectangle is the wire form of a face box.
type faceRectangle struct {
	Top    float64 `json:"top"`
	Left   float64 `json:"left"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (r faceRectangle) rect() facematch.Rect {
	return facematch.Rect{Top: r.Top, Left: r.Left, Width: r.Width, Height: r.Height}
}

type detectResponseItem struct {
	FaceID        string        `json:"faceId"`
	FaceRectangle faceRectangle `json:"faceRectangle"`
	Confidence    *float64      `json:"confidence,omitempty"`
}

// DetectedFace is a face found by the service. FaceID is only valid for a short,
// service-defined time and must not be kept beyond the current request.
type DetectedFace struct {
	FaceID     string         `json:"face_id"`
	Rect       facematch.Rect `json:"position"`
	Confidence *float64       `json:"confidence,omitempty"`
}

type verifyRequest struct {
	FaceID1 string `json:"faceId1"`
	FaceID2 string `json:"faceId2"`
}

// VerifyResult is the outcome of a 1:1 comparison.
type VerifyResult struct {
	IsIdentical bool    `json:"isIdentical"`
	Confidence  float64 `json:"confidence"`
}

type personGroupRequest struct {
	Name             string `json:"name"`
	RecognitionModel string `json:"recognitionModel"`
}

type createPersonRequest struct {
	Name     string `json:"name"`
	UserData string `json:"userData,omitempty"`
}

type createPersonResponse struct {
	PersonID string `json:"personId"`
}

type persistedFaceResponse struct {
	PersistedFaceID string `json:"persistedFaceId"`
}

// Identity is a person registered in the remote person group.
type Identity struct {
	PersonID         string   `json:"personId"`
	Name             string   `json:"name"`
	UserData         string   `json:"userData,omitempty"`
	PersistedFaceIDs []string `json:"persistedFaceIds,omitempty"`
}

// Training states reported by the service.
const (
	TrainingNotStarted = "notstarted"
	TrainingRunning    = "running"
	TrainingSucceeded  = "succeeded"
	TrainingFailed     = "failed"
)

// TrainingStatus is the state of the last training run of the person group.
type TrainingStatus struct {
	Status             string `json:"status"`
	Message            string `json:"message,omitempty"`
	CreatedDateTime    string `json:"createdDateTime,omitempty"`
	LastActionDateTime string `json:"lastActionDateTime,omitempty"`
}

type identifyRequest struct {
	PersonGroupID              string   `json:"personGroupId"`
	FaceIDs                    []string `json:"faceIds"`
	MaxNumOfCandidatesReturned int      `json:"maxNumOfCandidatesReturned"`
	ConfidenceThreshold        float64  `json:"confidenceThreshold"`
}

// Candidate is a possible identity for an identified face.
type Candidate struct {
	PersonID   string  `json:"personId"`
	Confidence float64 `json:"confidence"`
}

// IdentifyResult lists candidates for one queried face.
type IdentifyResult struct {
	FaceID     string      `json:"faceId"`
	Candidates []Candidate `json:"candidates"`
}
