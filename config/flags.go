package config

import (
	"errors"
	"flag"
	"os"
)

// ResolvePath 返回 fs 中名为 name 的配置路径。
// 显式传入的路径原样返回，文件缺失时由 Load 报错；
// 使用默认值且文件不存在时返回空串，只使用默认配置和环境变量。
func ResolvePath(fs *flag.FlagSet, name string) string {
	f := fs.Lookup(name)
	if f == nil {
		return ""
	}
	explicit := false
	fs.Visit(func(v *flag.Flag) {
		if v.Name == name {
			explicit = true
		}
	})
	path := f.Value.String()
	if explicit {
		return path
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return ""
	}
	return path
}
