// Package script YAML 命令脚本：按顺序下发命令、等待与到位检查
package script

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/taoyao-code/stepper-usb/internal/protocol/stepper"
)

// 步骤类型
const (
	OpDeviceInfo      = "device_info"
	OpReadConfig      = "read_config"
	OpChangeConfig    = "change_config"
	OpEnableStreaming = "enable_streaming"
	OpRun             = "run"
	OpSleepMode       = "sleep_mode"
	OpMoveSpeed       = "move_speed"
	OpPwm             = "pwm"
	OpMoveTrajectory  = "move_trajectory"
	OpMovePosition    = "move_position"
	OpStop            = "stop"
	OpZero            = "zero"
	OpReset           = "reset"
	OpWait            = "wait"
	OpWaitTarget      = "wait_target"
)

// DefaultWaitTargetTimeout wait_target 未指定 timeout 时的上限
const DefaultWaitTargetTimeout = 30 * time.Second

// Script 命令脚本
type Script struct {
	Name            string `yaml:"name"`
	Description     string `yaml:"description"`
	ContinueOnError bool   `yaml:"continue_on_error"`
	Steps           []Step `yaml:"steps"`
}

// Step 单个步骤；字段按 op 取用
type Step struct {
	Op string `yaml:"op"`

	// change_config
	Velocity        uint32 `yaml:"velocity"`
	Acceleration    uint32 `yaml:"acceleration"`
	Deceleration    uint32 `yaml:"deceleration"`
	Settings        *uint8 `yaml:"settings"`
	InvertDirection bool   `yaml:"invert_direction"`

	// change_config / move_trajectory
	EndSwitch string `yaml:"end_switch"`

	// move_speed
	Speed     uint32 `yaml:"speed"`
	Direction string `yaml:"direction"`

	// pwm: duty1_ccw, duty2_ccw, duty1_acw, duty2_acw
	Duty []uint8 `yaml:"duty"`

	// move_trajectory / move_position / wait_target
	Position *int32 `yaml:"position"`
	MaxSpeed uint32 `yaml:"max_speed"`
	MaxAccel uint32 `yaml:"max_accel"`
	MaxDecel uint32 `yaml:"max_decel"`

	// wait / wait_target
	Duration time.Duration `yaml:"duration"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Load 读取并校验脚本文件
func Load(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script %s: %w", path, err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("script %s: %w", path, err)
	}
	return s, nil
}

// Parse 解析并校验脚本
func Parse(data []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if len(s.Steps) == 0 {
		return nil, errors.New("script has no steps")
	}
	var errs []error
	for i, st := range s.Steps {
		if err := st.validate(); err != nil {
			errs = append(errs, fmt.Errorf("step %d (%s): %w", i+1, st.Op, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &s, nil
}

func (st Step) validate() error {
	switch st.Op {
	case OpMovePosition:
		if st.Position == nil {
			return errors.New("position is required")
		}
		return nil
	case OpWaitTarget:
		if st.Position == nil {
			return errors.New("position is required")
		}
		if st.Timeout < 0 {
			return errors.New("timeout must not be negative")
		}
		return nil
	case OpWait:
		if st.Duration <= 0 {
			return errors.New("duration must be positive")
		}
		return nil
	}
	_, err := st.Command()
	return err
}

// Command 把命令类步骤转换为控制器命令；move_position/wait/wait_target 不对应单条命令
func (st Step) Command() (stepper.Command, error) {
	switch st.Op {
	case OpDeviceInfo:
		return stepper.GetDeviceInfo{}, nil
	case OpReadConfig:
		return stepper.ReadConfiguration{}, nil
	case OpChangeConfig:
		if st.Velocity == 0 || st.Acceleration == 0 || st.Deceleration == 0 {
			return nil, errors.New("velocity, acceleration and deceleration are required")
		}
		cmd := stepper.ChangeConfiguration{Velocity: st.Velocity, Acceleration: st.Acceleration, Deceleration: st.Deceleration}
		if st.Settings != nil {
			cmd.Settings = *st.Settings
			return cmd, nil
		}
		es, err := stepper.ParseEndSwitch(st.EndSwitch)
		if err != nil {
			return nil, err
		}
		cmd.Settings = stepper.PackSettings(st.InvertDirection, es == stepper.EndSwitchNC, es != stepper.EndSwitchNone)
		return cmd, nil
	case OpEnableStreaming:
		return stepper.EnableStreaming{}, nil
	case OpRun:
		return stepper.RunSleep{Run: true}, nil
	case OpSleepMode:
		return stepper.RunSleep{Run: false}, nil
	case OpMoveSpeed:
		dir, err := stepper.ParseDirection(st.Direction)
		if err != nil {
			return nil, err
		}
		return stepper.MoveAtSpeed{Speed: st.Speed, Direction: dir}, nil
	case OpPwm:
		if len(st.Duty) != 4 {
			return nil, fmt.Errorf("duty needs 4 values, got %d", len(st.Duty))
		}
		return stepper.SetPwm{Duty1CCW: st.Duty[0], Duty2CCW: st.Duty[1], Duty1ACW: st.Duty[2], Duty2ACW: st.Duty[3]}, nil
	case OpMoveTrajectory:
		if st.Position == nil {
			return nil, errors.New("position is required")
		}
		if st.MaxSpeed == 0 || st.MaxAccel == 0 || st.MaxDecel == 0 {
			return nil, errors.New("max_speed, max_accel and max_decel are required")
		}
		es, err := stepper.ParseEndSwitch(st.EndSwitch)
		if err != nil {
			return nil, err
		}
		return stepper.MoveTrajectory{
			FinalPosition: *st.Position,
			MaxSpeed:      st.MaxSpeed,
			MaxAccel:      st.MaxAccel,
			MaxDecel:      st.MaxDecel,
			EndSwitch:     es,
		}, nil
	case OpStop:
		return stepper.StopTrajectory{}, nil
	case OpZero:
		return stepper.ResetToZero{}, nil
	case OpReset:
		return stepper.SystemReset{}, nil
	case OpMovePosition, OpWait, OpWaitTarget:
		return nil, nil
	case "":
		return nil, errors.New("op is required")
	}
	return nil, fmt.Errorf("unknown op %q", st.Op)
}
