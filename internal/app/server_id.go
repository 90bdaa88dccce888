package app

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

// GenerateInstanceID 生成进程实例ID，写入每条日志便于区分多次启动
// 优先使用环境变量 STEPPER_INSTANCE_ID，否则生成 {name}-{hostname}-{uuid前8位}
func GenerateInstanceID(name string) string {
	if id := os.Getenv("STEPPER_INSTANCE_ID"); id != "" {
		return id
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	if name == "" {
		name = "stepperd"
	}
	return fmt.Sprintf("%s-%s-%s", name, hostname, uuid.New().String()[:8])
}
