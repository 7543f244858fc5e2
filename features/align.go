package features

import (
	"fmt"
	"sort"
)

// RawRecord 请求中的特征名到值的映射
type RawRecord map[string]any

// Record 按模式顺序排列的特征值，nil 表示缺失
type Record []any

// ValidationError 输入包含模式中不存在的特征
type ValidationError struct {
	Unknown []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("Unknown feature(s): %v", e.Unknown)
}

// Align 将原始输入按模式顺序对齐，缺失特征填充 nil。
// 存在未知特征时返回 *ValidationError，其中特征名已排序。
func (s *Schema) Align(raw RawRecord) (Record, error) {
	var unknown []string
	for name := range raw {
		if _, ok := s.index[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, &ValidationError{Unknown: unknown}
	}

	record := make(Record, len(s.names))
	for i, name := range s.names {
		record[i] = raw[name]
	}
	return record, nil
}
