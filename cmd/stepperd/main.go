package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/taoyao-code/stepper-usb/internal/app/bootstrap"
	cfgpkg "github.com/taoyao-code/stepper-usb/internal/config"
	"github.com/taoyao-code/stepper-usb/internal/logging"
)

func main() {
	cfgPath := flag.String("config", "", "配置文件路径（默认 $STEPPER_CONFIG 或 configs/stepper.yaml）")
	simulate := flag.Bool("simulate", false, "使用模拟控制器")
	flag.Parse()

	// 1) 加载配置
	cfg, err := cfgpkg.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *simulate {
		cfg.Device.Simulate = true
	}
	if err := cfgpkg.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config:\n%v\n", err)
		os.Exit(2)
	}

	// 2) 初始化日志
	logger, err := logging.InitLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	// 3) 启动并等待信号
	if err := bootstrap.Run(cfg, logger); err != nil {
		logger.Error("stepperd exited with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}
