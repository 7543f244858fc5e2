// Package features 提供特征模式加载与输入对齐
package features

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// Schema 模型训练时使用的有序特征名列表，进程生命周期内不可变
type Schema struct {
	names []string
	index map[string]int
}

// NewSchema 根据有序特征名创建模式
func NewSchema(names []string) (*Schema, error) {
	if len(names) == 0 {
		return nil, errors.New("feature schema is empty")
	}
	index := make(map[string]int, len(names))
	for i, name := range names {
		if name == "" {
			return nil, fmt.Errorf("feature schema: empty name at position %d", i)
		}
		if prev, ok := index[name]; ok {
			return nil, fmt.Errorf("feature schema: duplicate name %q at positions %d and %d", name, prev, i)
		}
		index[name] = i
	}
	return &Schema{
		names: append([]string(nil), names...),
		index: index,
	}, nil
}

// LoadSchema 从JSON文件加载特征模式（字符串数组）
func LoadSchema(path string) (*Schema, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read feature schema: %w", err)
	}
	var names []string
	if err := json.Unmarshal(payload, &names); err != nil {
		return nil, fmt.Errorf("parse feature schema %s: %w", path, err)
	}
	return NewSchema(names)
}

// Names 返回特征名副本
func (s *Schema) Names() []string {
	return append([]string(nil), s.names...)
}

// Len 返回特征数量
func (s *Schema) Len() int {
	return len(s.names)
}

// Index 返回特征在模式中的位置
func (s *Schema) Index(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}
