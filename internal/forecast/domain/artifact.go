package forecast

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	pipeline "smartbuilding-advisor/internal/pipeline/domain"
)

// Model types an artifact may carry.
const (
	ModelLinear = "linear"
	ModelForest = "forest"
)

// DefaultConfidenceMetric is the stored metric used as forecast confidence.
const DefaultConfidenceMetric = "r2"

// Scaler standardizes features as (x - mean) / scale.
type Scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// Linear is intercept + coef . x.
type Linear struct {
	Intercept float64   `json:"intercept"`
	Coef      []float64 `json:"coef"`
}

// TreeNode is one node of a regression tree. Feature < 0 marks a leaf.
type TreeNode struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	Value     float64 `json:"value"`
}

// Tree is a flat regression tree rooted at node 0.
type Tree struct {
	Nodes []TreeNode `json:"nodes"`
}

// Forest averages its trees.
type Forest struct {
	Trees []Tree `json:"trees"`
}

// Artifact is a trained consumption model loaded from the registry.
type Artifact struct {
	ModelID          string             `json:"model_id"`
	ModelType        string             `json:"model_type"`
	FeatureVersion   string             `json:"feature_version"`
	FeatureNames     []string           `json:"feature_names"`
	Scaler           Scaler             `json:"scaler"`
	Linear           *Linear            `json:"linear,omitempty"`
	Forest           *Forest            `json:"forest,omitempty"`
	Metrics          map[string]float64 `json:"metrics"`
	ConfidenceMetric string             `json:"confidence_metric,omitempty"`
	TrainedAt        time.Time          `json:"trained_at"`
}

var errInvalidArtifact = errors.New("forecast: invalid artifact")

// DecodeArtifact parses an artifact payload.
func DecodeArtifact(payload []byte) (Artifact, error) {
	var a Artifact
	if err := json.Unmarshal(payload, &a); err != nil {
		return Artifact{}, fmt.Errorf("forecast: decode artifact: %w", err)
	}
	return a, nil
}

// Check verifies the artifact matches the feature layout and is scorable.
func (a Artifact) Check(featureVersion string) error {
	if featureVersion != "" && a.FeatureVersion != featureVersion {
		return fmt.Errorf("%w: version %q, want %q", pipeline.ErrFeatureMismatch, a.FeatureVersion, featureVersion)
	}
	if len(a.FeatureNames) != len(FeatureNames) {
		return fmt.Errorf("%w: %d features, want %d", pipeline.ErrFeatureMismatch, len(a.FeatureNames), len(FeatureNames))
	}
	for i, name := range FeatureNames {
		if a.FeatureNames[i] != name {
			return fmt.Errorf("%w: feature %d is %q, want %q", pipeline.ErrFeatureMismatch, i, a.FeatureNames[i], name)
		}
	}
	n := len(FeatureNames)
	if len(a.Scaler.Mean) != n || len(a.Scaler.Scale) != n {
		return fmt.Errorf("%w: scaler size", errInvalidArtifact)
	}
	switch a.ModelType {
	case ModelLinear:
		if a.Linear == nil || len(a.Linear.Coef) != n {
			return fmt.Errorf("%w: linear coefficients", errInvalidArtifact)
		}
	case ModelForest:
		if a.Forest == nil || len(a.Forest.Trees) == 0 {
			return fmt.Errorf("%w: empty forest", errInvalidArtifact)
		}
		for _, tree := range a.Forest.Trees {
			if err := tree.check(n); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%w: model type %q", errInvalidArtifact, a.ModelType)
	}
	return nil
}

// Predict scales the features and scores them, rounded to 3 decimals. A
// non-finite score is returned as is so the run gate can flag it.
func (a Artifact) Predict(features []float64) (float64, error) {
	if len(features) != len(a.Scaler.Mean) {
		return 0, fmt.Errorf("%w: got %d features", pipeline.ErrFeatureMismatch, len(features))
	}
	x := make([]float64, len(features))
	for i, v := range features {
		scale := a.Scaler.Scale[i]
		if scale == 0 {
			scale = 1
		}
		x[i] = (v - a.Scaler.Mean[i]) / scale
	}
	var y float64
	switch a.ModelType {
	case ModelLinear:
		y = a.Linear.Intercept
		for i, c := range a.Linear.Coef {
			y += c * x[i]
		}
	case ModelForest:
		for _, tree := range a.Forest.Trees {
			y += tree.score(x)
		}
		y /= float64(len(a.Forest.Trees))
	default:
		return 0, fmt.Errorf("%w: model type %q", errInvalidArtifact, a.ModelType)
	}
	if math.IsNaN(y) || math.IsInf(y, 0) {
		return y, nil
	}
	return Round(y, 3), nil
}

// Confidence is the stored metric clamped to [0,1], rounded to 2 decimals.
func (a Artifact) Confidence() float64 {
	metric := a.ConfidenceMetric
	if metric == "" {
		metric = DefaultConfidenceMetric
	}
	v, ok := a.Metrics[metric]
	if !ok || math.IsNaN(v) {
		return 0
	}
	return Round(math.Max(0, math.Min(1, v)), 2)
}

func (t Tree) check(features int) error {
	if len(t.Nodes) == 0 {
		return fmt.Errorf("%w: empty tree", errInvalidArtifact)
	}
	for _, node := range t.Nodes {
		if node.Feature < 0 {
			continue
		}
		if node.Feature >= features ||
			node.Left <= 0 || node.Left >= len(t.Nodes) ||
			node.Right <= 0 || node.Right >= len(t.Nodes) {
			return fmt.Errorf("%w: malformed tree node", errInvalidArtifact)
		}
	}
	return nil
}

func (t Tree) score(x []float64) float64 {
	idx := 0
	for steps := 0; steps <= len(t.Nodes); steps++ {
		node := t.Nodes[idx]
		if node.Feature < 0 {
			return node.Value
		}
		if x[node.Feature] <= node.Threshold {
			idx = node.Left
		} else {
			idx = node.Right
		}
	}
	return t.Nodes[idx].Value
}
