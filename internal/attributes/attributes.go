// Package attributes detects faces with per-emotion likelihoods using a vision model.
package attributes

import (
	"context"
	"strings"
	"sync"

	"github.com/kozaktomas/face-auth/internal/facematch"
)

// Likelihood labels, from least to most likely.
const (
	Unknown      = "UNKNOWN"
	VeryUnlikely = "VERY_UNLIKELY"
	Unlikely     = "UNLIKELY"
	Possible     = "POSSIBLE"
	Likely       = "LIKELY"
	VeryLikely   = "VERY_LIKELY"
)

// Emotions reported for every face, in tie-break order.
var Emotions = []string{"joy", "sorrow", "anger", "surprise"}

var likelihoodScores = map[string]float64{
	Unknown:      0,
	VeryUnlikely: 0,
	Unlikely:     0.25,
	Possible:     0.5,
	Likely:       0.75,
	VeryLikely:   0.95,
}

// NormalizeLikelihood maps free-form model output onto a likelihood label.
func NormalizeLikelihood(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	if _, ok := likelihoodScores[s]; ok {
		return s
	}
	return Unknown
}

// Score converts a likelihood label to a score in [0, 0.95].
func Score(likelihood string) float64 {
	return likelihoodScores[NormalizeLikelihood(likelihood)]
}

// Emotion is the dominant emotion of a face.
type Emotion struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Face is one face found by a Provider.
type Face struct {
	Source      string             `json:"detection_source"`
	Rect        facematch.Rect     `json:"position"`
	Likelihoods map[string]string  `json:"likelihoods"`
	Scores      map[string]float64 `json:"scores"`
	BestEmotion Emotion            `json:"best_emotion"`
}

// NewFace fills scores and the best emotion from likelihood labels. Emotions missing
// from likelihoods are reported as UNKNOWN. Ties go to the earlier entry of Emotions.
func NewFace(source string, rect facematch.Rect, likelihoods map[string]string) Face {
	f := Face{
		Source:      source,
		Rect:        rect,
		Likelihoods: make(map[string]string, len(Emotions)),
		Scores:      make(map[string]float64, len(Emotions)),
	}
	for i, emotion := range Emotions {
		label := NormalizeLikelihood(likelihoods[emotion])
		score := likelihoodScores[label]
		f.Likelihoods[emotion] = label
		f.Scores[emotion] = score
		if i == 0 || score > f.BestEmotion.Score {
			f.BestEmotion = Emotion{Label: emotion, Score: score}
		}
	}
	return f
}

// Provider detects faces and their emotion likelihoods.
type Provider interface {
	Name() string
	DetectFaces(ctx context.Context, imageData []byte) ([]Face, error)
	GetUsage() Usage
}

// Usage tracks token usage of a provider.
type Usage struct {
	Requests     int
	InputTokens  int
	OutputTokens int
}

type usageTracker struct {
	mu    sync.Mutex
	usage Usage
}

func (u *usageTracker) track(inputTokens, outputTokens int64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.usage.Requests++
	u.usage.InputTokens += int(inputTokens)
	u.usage.OutputTokens += int(outputTokens)
}

func (u *usageTracker) GetUsage() Usage {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.usage
}
