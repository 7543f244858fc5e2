package ml

import (
    "encoding/json"
    "errors"
    "fmt"
    "math"
    "os"
)

type DecisionTree struct {
    nodes []TreeNode
}

type TreeNode struct {
    FeatureIdx  int     `json:"feature_idx"`
    Threshold   float64 `json:"threshold"`
    LeftChild   int     `json:"left_child"`
    RightChild  int     `json:"right_child"`
    MissingLeft bool    `json:"missing_left"`
    ClassLabel  int     `json:"class_label"`
    Probability float64 `json:"probability"`
    IsLeaf      bool    `json:"is_leaf"`
}

func NewDecisionTree(nodes []TreeNode) (*DecisionTree, error) {
    dt := &DecisionTree{nodes: append([]TreeNode(nil), nodes...)}
    if err := dt.validate(); err != nil {
        return nil, err
    }
    return dt, nil
}

// Predict walks from the root; values <= threshold and missing values with
// MissingLeft set go left.
func (dt *DecisionTree) Predict(features []float64) (int, float64, error) {
    if len(dt.nodes) == 0 {
        return 0, 0, errNotTrained
    }
    idx := 0
    for steps := 0; steps <= len(dt.nodes); steps++ {
        node := dt.nodes[idx]
        if node.IsLeaf {
            return node.ClassLabel, node.Probability, nil
        }
        if node.FeatureIdx < 0 || node.FeatureIdx >= len(features) {
            return 0, 0, errors.New("feature index out of range")
        }
        value := features[node.FeatureIdx]
        goLeft := value <= node.Threshold
        if math.IsNaN(value) {
            goLeft = node.MissingLeft
        }
        if goLeft {
            idx = node.LeftChild
        } else {
            idx = node.RightChild
        }
        if idx < 0 || idx >= len(dt.nodes) {
            return 0, 0, errors.New("invalid tree state")
        }
    }
    return 0, 0, errors.New("invalid tree state: cycle detected")
}

// NumFeatures returns the smallest vector width the tree can read.
func (dt *DecisionTree) NumFeatures() int {
    width := 0
    for _, node := range dt.nodes {
        if !node.IsLeaf && node.FeatureIdx+1 > width {
            width = node.FeatureIdx + 1
        }
    }
    return width
}

func (dt *DecisionTree) Load(path string) error {
    payload, err := os.ReadFile(path)
    if err != nil {
        return err
    }
    var nodes []TreeNode
    if err := json.Unmarshal(payload, &nodes); err != nil {
        return err
    }
    dt.nodes = nodes
    return dt.validate()
}

func (dt *DecisionTree) validate() error {
    if len(dt.nodes) == 0 {
        return errNotTrained
    }
    for i, node := range dt.nodes {
        if node.IsLeaf {
            if node.ClassLabel != 0 && node.ClassLabel != 1 {
                return fmt.Errorf("node %d: class label %d is not binary", i, node.ClassLabel)
            }
            if node.Probability < 0 || node.Probability > 1 || math.IsNaN(node.Probability) {
                return fmt.Errorf("node %d: probability %v out of range", i, node.Probability)
            }
            continue
        }
        if node.FeatureIdx < 0 {
            return fmt.Errorf("node %d: negative feature index", i)
        }
        if node.LeftChild <= 0 || node.LeftChild >= len(dt.nodes) ||
            node.RightChild <= 0 || node.RightChild >= len(dt.nodes) {
            return fmt.Errorf("node %d: child index out of range", i)
        }
    }
    return nil
}
