package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

// XGBoost evaluates a gradient boosted tree ensemble saved with
// Booster.save_model("model.json") for a binary:logistic objective.
type XGBoost struct {
	trees       []xgbTree
	baseMargin  float64
	numFeatures int
}

type xgbTree struct {
	left        []int
	right       []int
	splitIndex  []int
	splitValue  []float32
	defaultLeft []bool
}

type xgbModelFile struct {
	Learner struct {
		LearnerModelParam struct {
			BaseScore  string `json:"base_score"`
			NumClass   string `json:"num_class"`
			NumFeature string `json:"num_feature"`
		} `json:"learner_model_param"`
		Objective struct {
			Name string `json:"name"`
		} `json:"objective"`
		GradientBooster struct {
			Name  string `json:"name"`
			Model struct {
				Trees    []xgbTreeFile `json:"trees"`
				TreeInfo []int         `json:"tree_info"`
			} `json:"model"`
		} `json:"gradient_booster"`
	} `json:"learner"`
}

type xgbTreeFile struct {
	LeftChildren    []int      `json:"left_children"`
	RightChildren   []int      `json:"right_children"`
	SplitIndices    []int      `json:"split_indices"`
	SplitConditions []float32  `json:"split_conditions"`
	DefaultLeft     []flexBool `json:"default_left"`
	SplitType       []int      `json:"split_type"`
}

// flexBool accepts both JSON booleans and 0/1 integers.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	switch strings.TrimSpace(string(data)) {
	case "true", "1":
		*b = true
	case "false", "0":
		*b = false
	default:
		return fmt.Errorf("invalid boolean %s", data)
	}
	return nil
}

func LoadXGBoost(path string) (*XGBoost, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseXGBoost(payload)
}

func ParseXGBoost(payload []byte) (*XGBoost, error) {
	var file xgbModelFile
	if err := json.Unmarshal(payload, &file); err != nil {
		return nil, fmt.Errorf("parse xgboost model: %w", err)
	}
	learner := file.Learner

	switch learner.Objective.Name {
	case "binary:logistic", "reg:logistic":
	default:
		return nil, fmt.Errorf("unsupported xgboost objective %q", learner.Objective.Name)
	}
	if learner.GradientBooster.Name != "gbtree" {
		return nil, fmt.Errorf("unsupported xgboost booster %q", learner.GradientBooster.Name)
	}
	if n := learner.LearnerModelParam.NumClass; n != "" && n != "0" && n != "1" {
		return nil, fmt.Errorf("xgboost model has %s classes, expected binary", n)
	}
	for _, group := range learner.GradientBooster.Model.TreeInfo {
		if group != 0 {
			return nil, errors.New("xgboost model has more than one output group")
		}
	}

	baseScore, err := parseBaseScore(learner.LearnerModelParam.BaseScore)
	if err != nil {
		return nil, err
	}
	if baseScore <= 0 || baseScore >= 1 {
		return nil, fmt.Errorf("xgboost base_score %v outside (0, 1)", baseScore)
	}

	numFeatures := 0
	if s := learner.LearnerModelParam.NumFeature; s != "" {
		if numFeatures, err = strconv.Atoi(s); err != nil {
			return nil, fmt.Errorf("xgboost num_feature %q: %w", s, err)
		}
	}

	model := &XGBoost{
		baseMargin:  math.Log(baseScore / (1 - baseScore)),
		numFeatures: numFeatures,
	}
	for i, tf := range learner.GradientBooster.Model.Trees {
		tree, err := buildXGBTree(tf)
		if err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
		model.trees = append(model.trees, tree)
	}
	if len(model.trees) == 0 {
		return nil, errNotTrained
	}
	return model, nil
}

// parseBaseScore handles both "5E-1" and the bracketed "[5E-1]" form newer
// releases write.
func parseBaseScore(s string) (float64, error) {
	s = strings.Trim(strings.TrimSpace(s), "[]")
	if s == "" {
		return 0.5, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("xgboost base_score %q: %w", s, err)
	}
	return v, nil
}

func buildXGBTree(tf xgbTreeFile) (xgbTree, error) {
	n := len(tf.LeftChildren)
	if n == 0 {
		return xgbTree{}, errors.New("empty tree")
	}
	if len(tf.RightChildren) != n || len(tf.SplitIndices) != n || len(tf.SplitConditions) != n {
		return xgbTree{}, errors.New("inconsistent node arrays")
	}
	tree := xgbTree{
		left:        tf.LeftChildren,
		right:       tf.RightChildren,
		splitIndex:  tf.SplitIndices,
		splitValue:  tf.SplitConditions,
		defaultLeft: make([]bool, n),
	}
	for i := range tf.DefaultLeft {
		if i < n {
			tree.defaultLeft[i] = bool(tf.DefaultLeft[i])
		}
	}
	for i := 0; i < n; i++ {
		if tree.left[i] == -1 {
			continue
		}
		if i < len(tf.SplitType) && tf.SplitType[i] != 0 {
			return xgbTree{}, fmt.Errorf("node %d: categorical splits are not supported", i)
		}
		if tree.left[i] <= i || tree.left[i] >= n || tree.right[i] <= i || tree.right[i] >= n {
			return xgbTree{}, fmt.Errorf("node %d: child index out of range", i)
		}
	}
	return tree, nil
}

// leaf returns the leaf value reached by x. Children always have larger
// indices than their parent, so the walk terminates. Splits compare in
// float32, the precision XGBoost stores and evaluates them in.
func (t xgbTree) leaf(x []float64) (float64, error) {
	i := 0
	for t.left[i] != -1 {
		idx := t.splitIndex[i]
		if idx < 0 || idx >= len(x) {
			return 0, fmt.Errorf("feature index %d out of range", idx)
		}
		v := x[idx]
		switch {
		case math.IsNaN(v):
			if t.defaultLeft[i] {
				i = t.left[i]
			} else {
				i = t.right[i]
			}
		case float32(v) < t.splitValue[i]:
			i = t.left[i]
		default:
			i = t.right[i]
		}
	}
	return float64(t.splitValue[i]), nil
}

func (m *XGBoost) Predict(features []float64) (int, float64, error) {
	if m.numFeatures > 0 && len(features) != m.numFeatures {
		return 0, 0, fmt.Errorf("feature shape mismatch, expected: %d, got %d", m.numFeatures, len(features))
	}
	margin := m.baseMargin
	for _, tree := range m.trees {
		v, err := tree.leaf(features)
		if err != nil {
			return 0, 0, err
		}
		margin += v
	}
	proba := sigmoid(margin)
	label := 0
	if proba > 0.5 {
		label = 1
	}
	return label, proba, nil
}

func (m *XGBoost) NumFeatures() int {
	return m.numFeatures
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}
