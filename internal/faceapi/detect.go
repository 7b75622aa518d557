package faceapi

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/kozaktomas/face-auth/internal/constants"
)

func detectQuery() url.Values {
	q := url.Values{}
	q.Set("returnFaceId", "true")
	q.Set("returnFaceLandmarks", "false")
	q.Set("recognitionModel", recognitionModel)
	q.Set("detectionModel", detectionModel)
	q.Set("faceIdTimeToLive", strconv.Itoa(constants.FaceIDTimeToLive))
	return q
}

// Detect finds faces in image bytes. An image without faces yields an empty slice.
func (c *Client) Detect(ctx context.Context, image []byte) ([]DetectedFace, error) {
	if len(image) == 0 {
		return nil, errors.New("detect: empty image")
	}
	items, err := doJSON[[]detectResponseItem](ctx, c, request{
		operation: "detect",
		method:    http.MethodPost,
		path:      []string{"detect"},
		query:     detectQuery(),
		rawBody:   image,
	}, http.StatusOK)
	if err != nil {
		return nil, err
	}
	return toDetectedFaces(*items), nil
}

// DetectURL finds faces in an image the service downloads itself.
func (c *Client) DetectURL(ctx context.Context, imageURL string) ([]DetectedFace, error) {
	items, err := doJSON[[]detectResponseItem](ctx, c, request{
		operation: "detect",
		method:    http.MethodPost,
		path:      []string{"detect"},
		query:     detectQuery(),
		jsonBody:  map[string]string{"url": imageURL},
	}, http.StatusOK)
	if err != nil {
		return nil, err
	}
	return toDetectedFaces(*items), nil
}

func toDetectedFaces(items []detectResponseItem) []DetectedFace {
	faces := make([]DetectedFace, 0, len(items))
	for _, it := range items {
		faces = append(faces, DetectedFace{
			FaceID:     it.FaceID,
			Rect:       it.FaceRectangle.rect(),
			Confidence: it.Confidence,
		})
	}
	return faces
}

// Verify compares two face handles from recent Detect calls.
func (c *Client) Verify(ctx context.Context, faceID1, faceID2 string) (*VerifyResult, error) {
	if faceID1 == "" || faceID2 == "" {
		return nil, errors.New("verify: both face IDs are required")
	}
	return doJSON[VerifyResult](ctx, c, request{
		operation: "verify",
		method:    http.MethodPost,
		path:      []string{"verify"},
		jsonBody:  verifyRequest{FaceID1: faceID1, FaceID2: faceID2},
	}, http.StatusOK)
}
