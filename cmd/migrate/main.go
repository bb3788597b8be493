package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"ecodoc/agent/internal/store/sqldb"
)

// main 打开本地存储以触发结构迁移（含版本不一致时的重建），然后退出。
func main() {
	driver := flag.String("driver", "sqlite", "存储驱动: sqlite 或 postgres")
	dsn := flag.String("dsn", "./data/ecodoc-agent.db", "sqlite 文件路径或 postgres 连接字符串")
	retention := flag.Duration("retention", 7*24*time.Hour, "附件缓存保留窗口")
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		fmt.Printf("错误: 无法初始化日志: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	st, err := sqldb.Open(sqldb.Config{
		Driver:              *driver,
		DSN:                 *dsn,
		AttachmentRetention: *retention,
	}, log)
	if err != nil {
		fmt.Printf("错误: 存储迁移失败: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	fmt.Printf("✓ 存储迁移完成 (%s)\n", *driver)
}
