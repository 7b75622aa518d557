// Package constants provides shared constants used across the codebase.
// Thresholds live here so the CLI, the web handlers and the cascade agree on defaults.
package constants

// Authentication thresholds. The two have opposite polarity and must never be mixed up.
const (
	// DefaultRemoteConfidenceThreshold is the minimum remote verify confidence (higher = more similar)
	DefaultRemoteConfidenceThreshold = 0.70

	// DefaultLocalDistanceThreshold is the maximum cosine distance for the local fallback (lower = more similar)
	DefaultLocalDistanceThreshold = 0.30

	// DefaultLocalTopK is the number of neighbors fetched by the local fallback
	DefaultLocalTopK = 5
)

// Fusion constants
const (
	// DefaultFusionIoUThreshold is the minimum Intersection over Union required to attach
	// secondary detector attributes to a primary face
	DefaultFusionIoUThreshold = 0.2
)

// Vector store constants
const (
	// MinScanCandidates is the lower bound of records fetched by the local scan strategy
	MinScanCandidates = 200

	// HNSWMaxNeighbors is the M parameter of in-memory HNSW graphs
	HNSWMaxNeighbors = 16
)

// Remote face service constants
const (
	// DefaultPersonGroupID is the person group used when none is configured
	DefaultPersonGroupID = "face_auth_group"

	// IdentifyConfidenceThreshold is passed to the remote identify operation
	IdentifyConfidenceThreshold = 0.65

	// FaceIDTimeToLive is the requested lifetime of remote detection handles, in seconds
	FaceIDTimeToLive = 300
)

// Processing constants
const (
	// MaxImageSize is the maximum dimension (width or height) for local inference
	MaxImageSize = 1280

	// MaxUploadSize is the maximum accepted multipart upload size in bytes
	MaxUploadSize = 20 << 20
)
