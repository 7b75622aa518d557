package attributes

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kozaktomas/face-auth/internal/facematch"
)

//go:embed prompts/face_attributes.txt
var faceAttributesPrompt string

// maxRetries bounds the attempts to get parseable JSON out of a model.
const maxRetries = 3

// previewSize is the longest side of the image sent to a model.
const previewSize = 1024

type faceResponse struct {
	Faces []struct {
		Box      []float64 `json:"box_2d"`
		Joy      string    `json:"joy"`
		Sorrow   string    `json:"sorrow"`
		Anger    string    `json:"anger"`
		Surprise string    `json:"surprise"`
	} `json:"faces"`
}

// parseFaces decodes a model response. Boxes are normalized to 0-1000 and scaled
// to width x height pixels. Faces with a malformed box are skipped.
func parseFaces(source, content string, width, height int) ([]Face, error) {
	content = stripCodeFence(content)
	if content == "" {
		return nil, errors.New("empty response")
	}

	var resp faceResponse
	if err := json.Unmarshal([]byte(content), &resp); err != nil {
		return nil, fmt.Errorf("invalid face JSON: %w", err)
	}

	faces := make([]Face, 0, len(resp.Faces))
	for _, f := range resp.Faces {
		if len(f.Box) != 4 {
			continue
		}
		clamp := func(v float64) float64 { return min(max(v, 0), 1000) / 1000 }
		ymin, xmin, ymax, xmax := clamp(f.Box[0]), clamp(f.Box[1]), clamp(f.Box[2]), clamp(f.Box[3])
		rect := facematch.RectFromCorners(
			xmin*float64(width), ymin*float64(height),
			xmax*float64(width), ymax*float64(height),
		)
		if rect.Area() == 0 {
			continue
		}
		faces = append(faces, NewFace(source, rect, map[string]string{
			"joy":      f.Joy,
			"sorrow":   f.Sorrow,
			"anger":    f.Anger,
			"surprise": f.Surprise,
		}))
	}
	return faces, nil
}

// stripCodeFence removes a ```json fence some models wrap around JSON output.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
