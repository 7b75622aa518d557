package auth

import (
	"context"
	"time"

	"github.com/kozaktomas/face-auth/internal/attributes"
	"github.com/kozaktomas/face-auth/internal/faceapi"
	"github.com/kozaktomas/face-auth/internal/facematch"
)

// Strategies reported in an Outcome.
const (
	StrategyRemoteVerify   = "remote-verify"
	StrategyLocalEmbedding = "local-embedding"
)

// Thresholds of the two verification paths. They have opposite polarity: a remote
// comparison passes at or above RemoteConfidence, a local neighbor passes at or below
// LocalDistance. Zero values fall back to the service defaults.
type Thresholds struct {
	RemoteConfidence float64 `json:"remote_confidence"`
	LocalDistance    float64 `json:"local_distance"`
}

func (t Thresholds) withDefaults(d Thresholds) Thresholds {
	if t.RemoteConfidence <= 0 {
		t.RemoteConfidence = d.RemoteConfidence
	}
	if t.LocalDistance <= 0 {
		t.LocalDistance = d.LocalDistance
	}
	return t
}

// Outcome is the result of one login attempt.
type Outcome struct {
	IsMatch bool `json:"is_match"`
	// Confidence is in [0,1]; for the local path it is 1 - distance.
	Confidence float64 `json:"confidence"`
	Strategy   string  `json:"strategy,omitempty"`
	// DistanceOrConfidence is the raw score of Strategy: a remote confidence or a cosine distance.
	DistanceOrConfidence float64             `json:"distance_or_confidence"`
	ThresholdUsed        float64             `json:"threshold_used"`
	ReferencesTried      int                 `json:"references_tried"`
	Reason               string              `json:"reason,omitempty"`
	Emotion              *attributes.Emotion `json:"emotion,omitempty"`
}

// Failure reasons.
const (
	ReasonBelowThreshold = "below-threshold"
	ReasonNoCandidates   = "no-candidates"
	ReasonUnavailable    = "verification-unavailable"
)

// EnrollResult summarizes an enrollment call.
type EnrollResult struct {
	AddedCount       int      `json:"added_count"`
	Locators         []string `json:"locators"`
	Embedded         int      `json:"embedded"`
	RemoteRegistered int      `json:"remote_registered"`
}

// RemovalResult summarizes an identity removal.
type RemovalResult struct {
	OwnerKey          string `json:"owner_key"`
	LocatorsRemoved   int    `json:"locators_removed"`
	EmbeddingsRemoved int    `json:"embeddings_removed"`
	RemoteRemoved     bool   `json:"remote_removed"`
}

// Detection sources.
const (
	SourceRemote = "remote"
	SourceLocal  = "local"
)

// DetectedFace is a face found by DetectOnly. FaceID is set only for remote
// detections and expires shortly.
type DetectedFace struct {
	FaceID     string         `json:"face_id,omitempty"`
	Rect       facematch.Rect `json:"position"`
	Confidence *float64       `json:"confidence,omitempty"`
	Source     string         `json:"detection_source"`
}

// FusedFace is a detected face with the attributes of the overlapping attributes face.
type FusedFace = facematch.Fused[DetectedFace, attributes.Face]

// RemoteFaces is the subset of the remote face client the service uses.
type RemoteFaces interface {
	SupportsIdentity() bool
	Detect(ctx context.Context, image []byte) ([]faceapi.DetectedFace, error)
	Verify(ctx context.Context, faceID1, faceID2 string) (*faceapi.VerifyResult, error)
	EnsureGroup(ctx context.Context) error
	CreateIdentity(ctx context.Context, name, userData string) (string, error)
	AddReferenceFace(ctx context.Context, personID string, image []byte) (string, error)
	DeleteIdentity(ctx context.Context, personID string) error
	Train(ctx context.Context) error
	TrainAndWait(ctx context.Context, pollInterval, timeout time.Duration) error
	ListIdentities(ctx context.Context) ([]faceapi.Identity, error)
}

// Embedder computes local face embeddings.
type Embedder interface {
	Embed(ctx context.Context, data []byte) ([]float32, error)
	Detect(ctx context.Context, data []byte) ([]facematch.Rect, error)
}
