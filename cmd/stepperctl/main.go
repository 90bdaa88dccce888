package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/stepper-usb/internal/app"
	cfgpkg "github.com/taoyao-code/stepper-usb/internal/config"
	"github.com/taoyao-code/stepper-usb/internal/logging"
	"github.com/taoyao-code/stepper-usb/internal/outbound"
	"github.com/taoyao-code/stepper-usb/internal/protocol/stepper"
	"github.com/taoyao-code/stepper-usb/internal/script"
	"github.com/taoyao-code/stepper-usb/internal/transport/usbfs"
)

const usage = `stepperctl - USB 步进电机控制器命令行工具

使用方法:
  stepperctl [全局选项] <命令> [命令选项]

命令:
  list                         列出匹配的设备（默认 1dc3:0641，-vid 0 列出全部）
  info                         读取设备信息（固件版本、电压、温度、状态）
  config                       读取当前配置
  set-config                   修改配置 (-velocity -accel -decel [-end-switch] [-invert])
  speed                        恒速运动 (-speed [-dir cw|acw])，speed=0 停止
  move                         移动到绝对位置 (-position [-wait] [-timeout])
  stop                         停止轨迹
  zero                         当前位置清零
  reset                        系统复位（设备随后掉线）
  stream                       开启推流并打印样本 (-n)
  run <script.yaml>            执行命令脚本

全局选项:
`

type globalOpts struct {
	configPath string
	simulate   bool
	vid        string
	pid        string
	serial     string
	jsonOut    bool
	verbose    bool
	timeout    time.Duration
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var g globalOpts
	fs := flag.NewFlagSet("stepperctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&g.configPath, "config", "", "配置文件路径")
	fs.BoolVar(&g.simulate, "simulate", false, "使用模拟控制器")
	fs.StringVar(&g.vid, "vid", "", "Vendor ID（十六进制，覆盖配置）")
	fs.StringVar(&g.pid, "pid", "", "Product ID（十六进制，覆盖配置）")
	fs.StringVar(&g.serial, "serial", "", "序列号（覆盖配置）")
	fs.BoolVar(&g.jsonOut, "json", false, "JSON 输出")
	fs.BoolVar(&g.verbose, "v", false, "输出调试日志")
	fs.DurationVar(&g.timeout, "timeout", 10*time.Second, "单条命令超时")
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("missing command")
	}

	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}
	cmd, rest := fs.Arg(0), fs.Args()[1:]
	if cmd == "list" {
		return runList(cfg, g, stdout)
	}

	cli, err := connect(cfg, g, stdout, stderr)
	if err != nil {
		return err
	}
	defer cli.close()

	switch cmd {
	case "info":
		return cli.info(ctx)
	case "config":
		return cli.readConfig(ctx)
	case "set-config":
		return cli.setConfig(ctx, rest)
	case "speed":
		return cli.speed(ctx, rest)
	case "move":
		return cli.move(ctx, rest)
	case "stop":
		return cli.simple(ctx, stepper.StopTrajectory{})
	case "zero":
		return cli.simple(ctx, stepper.ResetToZero{})
	case "reset":
		return cli.simple(ctx, stepper.SystemReset{})
	case "stream":
		return cli.stream(ctx, rest)
	case "run":
		return cli.runScript(ctx, rest)
	}
	fs.Usage()
	return fmt.Errorf("unknown command %q", cmd)
}

func parseHex16(s string) (uint16, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid hex id %q", s)
	}
	return uint16(v), nil
}

func loadConfig(g globalOpts) (*cfgpkg.Config, error) {
	cfg, err := cfgpkg.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	if g.simulate {
		cfg.Device.Simulate = true
	}
	if g.vid != "" {
		if cfg.Device.VendorID, err = parseHex16(g.vid); err != nil {
			return nil, err
		}
	}
	if g.pid != "" {
		if cfg.Device.ProductID, err = parseHex16(g.pid); err != nil {
			return nil, err
		}
	}
	if g.serial != "" {
		cfg.Device.Serial = g.serial
	}
	cfg.Device = app.ResolveDevice(cfg.Device)
	cfg.Logging.Level = "warn"
	if g.verbose {
		cfg.Logging.Level = "debug"
	}
	cfg.Logging.Format = "console"
	cfg.Logging.File.Filename = ""
	return cfg, nil
}

func runList(cfg *cfgpkg.Config, g globalOpts, stdout io.Writer) error {
	bus, _ := app.NewBus(cfg.Device)
	var (
		devs []interface{ String() string }
		out  any
	)
	if ub, ok := bus.(*usbfs.Bus); ok && (cfg.Device.VendorID == 0 || cfg.Device.ProductID == 0) {
		all, err := ub.List()
		if err != nil {
			return err
		}
		for _, d := range all {
			devs = append(devs, d)
		}
		out = all
	} else {
		found, err := bus.Discover(cfg.Device.VendorID, cfg.Device.ProductID, cfg.Device.Serial)
		if err != nil {
			return err
		}
		for _, d := range found {
			devs = append(devs, d)
		}
		out = found
	}
	if g.jsonOut {
		return json.NewEncoder(stdout).Encode(out)
	}
	if len(devs) == 0 {
		fmt.Fprintln(stdout, "no devices found")
		return nil
	}
	for _, d := range devs {
		fmt.Fprintln(stdout, d.String())
	}
	return nil
}

// client 单次命令行调用持有的会话与命令队列
type client struct {
	worker  *outbound.Worker
	closeFn func()
	logger  *zap.Logger
	out     io.Writer
	jsonOut bool
	timeout time.Duration
}

func connect(cfg *cfgpkg.Config, g globalOpts, stdout, stderr io.Writer) (*client, error) {
	if err := cfgpkg.Validate(cfg); err != nil {
		return nil, err
	}
	logger, err := logging.InitLoggerTo(cfg.Logging, stderr)
	if err != nil {
		return nil, err
	}
	sess, _, err := app.OpenSession(cfg, nil, logger)
	if err != nil {
		return nil, err
	}
	w, stopWorker := app.StartWorker(sess, cfg.Worker, nil, logger)
	return &client{
		worker: w,
		closeFn: func() {
			stopWorker()
			sess.Close()
			_ = logger.Sync()
		},
		logger:  logger,
		out:     stdout,
		jsonOut: g.jsonOut,
		timeout: g.timeout,
	}, nil
}

func (c *client) close() { c.closeFn() }

func (c *client) print(v any, text string) error {
	if c.jsonOut {
		return json.NewEncoder(c.out).Encode(v)
	}
	_, err := fmt.Fprintln(c.out, text)
	return err
}

func (c *client) exec(ctx context.Context, cmd stepper.Command) (stepper.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.worker.Execute(ctx, cmd)
}

func (c *client) simple(ctx context.Context, cmd stepper.Command) error {
	if _, err := c.exec(ctx, cmd); err != nil {
		return err
	}
	return c.print(map[string]string{"opcode": cmd.Opcode().String(), "result": "ok"}, cmd.Opcode().String()+": ok")
}

func (c *client) info(ctx context.Context) error {
	resp, err := c.exec(ctx, stepper.GetDeviceInfo{})
	if err != nil {
		return err
	}
	info, ok := resp.(stepper.DeviceInfo)
	if !ok {
		return fmt.Errorf("unexpected response %T", resp)
	}
	return c.print(info, fmt.Sprintf(
		"bootloader fw: 0x%04X\napp fw:        0x%04X\nsupply:        %.3f V\ntemperature:   %.3f °C\nstatus:        %s",
		info.BootloaderFirmware, info.AppFirmware, info.SupplyVoltage, info.Temperature, info.Status))
}

func (c *client) readConfig(ctx context.Context) error {
	resp, err := c.exec(ctx, stepper.ReadConfiguration{})
	if err != nil {
		return err
	}
	cfg, ok := resp.(stepper.Configuration)
	if !ok {
		return fmt.Errorf("unexpected response %T", resp)
	}
	inv, nc, en := stepper.UnpackSettings(cfg.Settings)
	return c.print(cfg, fmt.Sprintf(
		"velocity max:  %d\nacceleration:  %d\ndeceleration:  %d\nsettings:      0x%02X (invert_dir=%t nc_switch=%t switch_enable=%t)",
		cfg.VelocityMax, cfg.Acceleration, cfg.Deceleration, cfg.Settings, inv, nc, en))
}

func (c *client) setConfig(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("set-config", flag.ContinueOnError)
	velocity := fs.Uint("velocity", 0, "最大速度（步/秒）")
	accel := fs.Uint("accel", 0, "加速度")
	decel := fs.Uint("decel", 0, "减速度")
	endSwitch := fs.String("end-switch", "none", "限位开关: none|no|nc")
	invert := fs.Bool("invert", false, "反转方向")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *velocity == 0 || *accel == 0 || *decel == 0 {
		return errors.New("set-config requires -velocity, -accel and -decel")
	}
	es, err := stepper.ParseEndSwitch(*endSwitch)
	if err != nil {
		return err
	}
	return c.simple(ctx, stepper.ChangeConfiguration{
		Velocity:     uint32(*velocity),
		Acceleration: uint32(*accel),
		Deceleration: uint32(*decel),
		Settings:     stepper.PackSettings(*invert, es == stepper.EndSwitchNC, es != stepper.EndSwitchNone),
	})
}

func (c *client) speed(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("speed", flag.ContinueOnError)
	speed := fs.Uint("speed", 0, "速度（步/秒），0 停止")
	dir := fs.String("dir", "cw", "方向: cw|acw")
	if err := fs.Parse(args); err != nil {
		return err
	}
	d, err := stepper.ParseDirection(*dir)
	if err != nil {
		return err
	}
	return c.simple(ctx, stepper.MoveAtSpeed{Speed: uint32(*speed), Direction: d})
}

func (c *client) move(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("move", flag.ContinueOnError)
	position := fs.Int("position", 0, "目标绝对位置（步）")
	wait := fs.Bool("wait", false, "开启推流并等待到位")
	timeout := fs.Duration("timeout", script.DefaultWaitTargetTimeout, "等待到位超时")
	if err := fs.Parse(args); err != nil {
		return err
	}
	pos := int32(*position)
	s := &script.Script{Name: "move", Steps: []script.Step{{Op: script.OpMovePosition, Position: &pos}}}
	if *wait {
		s.Steps = []script.Step{
			{Op: script.OpEnableStreaming},
			{Op: script.OpMovePosition, Position: &pos},
			{Op: script.OpWaitTarget, Position: &pos, Timeout: *timeout},
		}
	}
	if _, err := script.NewRunner(c.worker, nil, c.logger).Run(ctx, s); err != nil {
		return err
	}
	return c.print(map[string]any{"final_position": pos, "waited": *wait}, fmt.Sprintf("move to %d: ok", pos))
}

func (c *client) stream(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("stream", flag.ContinueOnError)
	n := fs.Int("n", 10, "读取样本数，0 表示直到中断")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := c.exec(ctx, stepper.EnableStreaming{}); err != nil {
		return err
	}
	for i := 0; *n == 0 || i < *n; i++ {
		rctx, cancel := context.WithTimeout(ctx, c.timeout)
		s, err := c.worker.ReadStream(rctx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := c.print(s, fmt.Sprintf("position=%d speed=%d final=%d end_switch=%t",
			s.Position, s.Speed, s.FinalPosition, s.EndSwitchActive)); err != nil {
			return err
		}
	}
	return nil
}

func (c *client) runScript(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: stepperctl run <script.yaml>")
	}
	s, err := script.Load(args[0])
	if err != nil {
		return err
	}
	results, err := script.NewRunner(c.worker, nil, c.logger).Run(ctx, s)
	for _, r := range results {
		status := "ok"
		if r.Err != nil {
			status = r.Err.Error()
		}
		line := fmt.Sprintf("[%d] %-16s %-8s %s", r.Index, r.Op, r.Elapsed.Round(time.Millisecond), status)
		if perr := c.print(map[string]any{"step": r.Index, "op": r.Op, "elapsed_ms": r.Elapsed.Milliseconds(), "result": status}, line); perr != nil {
			return perr
		}
	}
	return err
}
