package migrations

import "embed"

// Files 内嵌全部 SQL 迁移文件，按文件名前缀的版本号升序执行。
//
//go:embed *.sql
var Files embed.FS
