package faceapi

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/kozaktomas/face-auth/internal/constants"
)

// EnsureGroup creates the person group. An already existing group is not an error.
func (c *Client) EnsureGroup(ctx context.Context) error {
	_, err := c.do(ctx, request{
		operation:  "ensure_group",
		method:     http.MethodPut,
		path:       []string{"persongroups", c.groupID},
		jsonBody:   personGroupRequest{Name: c.groupID, RecognitionModel: recognitionModel},
		degradable: true,
	}, http.StatusOK, http.StatusAccepted, http.StatusConflict)
	return err
}

// CreateIdentity registers a person and returns its ID.
func (c *Client) CreateIdentity(ctx context.Context, name, userData string) (string, error) {
	resp, err := doJSON[createPersonResponse](ctx, c, request{
		operation:  "create_identity",
		method:     http.MethodPost,
		path:       []string{"persongroups", c.groupID, "persons"},
		jsonBody:   createPersonRequest{Name: name, UserData: userData},
		degradable: true,
	}, http.StatusOK)
	if err != nil {
		return "", err
	}
	if resp.PersonID == "" {
		return "", errors.New("create_identity: empty personId in response")
	}
	return resp.PersonID, nil
}

// AddReferenceFace attaches a reference photo to a person and returns the persisted face ID.
func (c *Client) AddReferenceFace(ctx context.Context, personID string, image []byte) (string, error) {
	if len(image) == 0 {
		return "", errors.New("add_reference_face: empty image")
	}
	resp, err := doJSON[persistedFaceResponse](ctx, c, request{
		operation:  "add_reference_face",
		method:     http.MethodPost,
		path:       []string{"persongroups", c.groupID, "persons", personID, "persistedFaces"},
		query:      url.Values{"detectionModel": {detectionModel}},
		rawBody:    image,
		degradable: true,
	}, http.StatusOK)
	if err != nil {
		return "", err
	}
	return resp.PersistedFaceID, nil
}

// DeleteIdentity removes a person and its persisted faces.
func (c *Client) DeleteIdentity(ctx context.Context, personID string) error {
	_, err := c.do(ctx, request{
		operation:  "delete_identity",
		method:     http.MethodDelete,
		path:       []string{"persongroups", c.groupID, "persons", personID},
		degradable: true,
	}, http.StatusOK, http.StatusNotFound)
	return err
}

// Train starts training the person group. It does not wait for completion.
func (c *Client) Train(ctx context.Context) error {
	_, err := c.do(ctx, request{
		operation:  "train",
		method:     http.MethodPost,
		path:       []string{"persongroups", c.groupID, "train"},
		degradable: true,
	}, http.StatusOK, http.StatusAccepted)
	return err
}

// TrainingStatus returns the state of the last training run.
func (c *Client) TrainingStatus(ctx context.Context) (*TrainingStatus, error) {
	return doJSON[TrainingStatus](ctx, c, request{
		operation:  "training_status",
		method:     http.MethodGet,
		path:       []string{"persongroups", c.groupID, "training"},
		degradable: true,
	}, http.StatusOK)
}

// Identify looks up the best matching person for each face handle.
func (c *Client) Identify(ctx context.Context, faceIDs []string) ([]IdentifyResult, error) {
	if !c.SupportsIdentity() {
		return nil, ErrIdentificationUnavailable
	}
	if len(faceIDs) == 0 {
		return []IdentifyResult{}, nil
	}
	resp, err := doJSON[[]IdentifyResult](ctx, c, request{
		operation: "identify",
		method:    http.MethodPost,
		path:      []string{"identify"},
		jsonBody: identifyRequest{
			PersonGroupID:              c.groupID,
			FaceIDs:                    faceIDs,
			MaxNumOfCandidatesReturned: 1,
			ConfidenceThreshold:        constants.IdentifyConfidenceThreshold,
		},
		degradable: true,
	}, http.StatusOK)
	if err != nil {
		return nil, err
	}
	return *resp, nil
}

// ListIdentities returns the persons of the group. When the capability has been
// withdrawn it returns an empty list instead of an error.
func (c *Client) ListIdentities(ctx context.Context) ([]Identity, error) {
	resp, err := doJSON[[]Identity](ctx, c, request{
		operation:  "list_identities",
		method:     http.MethodGet,
		path:       []string{"persongroups", c.groupID, "persons"},
		degradable: true,
	}, http.StatusOK)
	if errors.Is(err, ErrIdentificationUnavailable) {
		return []Identity{}, nil
	}
	if err != nil {
		return nil, err
	}
	return *resp, nil
}
