package qlc

import (
	"fmt"
	"math"
	"strconv"
)

// Operator command names accepted over MQTT and the HTTP API.
const (
	ActionSetFunctionStatus = "set_function_status"
	ActionSetWidgetValue    = "set_widget_value"
	ActionPressButton       = "press_button"
	ActionToggleButton      = "toggle_button"
	ActionSetCueListStep    = "set_cue_list_step"
	ActionSetFramePage      = "set_frame_page"
	ActionSetXYPad          = "set_xy_pad"
	ActionSetSpeedDial      = "set_speed_dial"
	ActionSetBlackout       = "set_blackout"
	ActionLoadProject       = "load_project"
	ActionRaw               = "raw"
)

// BuildCommands translates an operator command into controller frames.
//
// Parameters:
//   - action: one of the Action* names
//   - entityID: target function or widget id (ignored by blackout, load_project and raw)
//   - params: decoded JSON parameters
//
// Returns:
//   - []Command: frames to pass to Execute
//   - error: ErrInvalidCommand for unknown actions or bad parameters
func BuildCommands(action, entityID string, params map[string]any) ([]Command, error) {
	switch action {
	case ActionSetFunctionStatus:
		running, err := BoolParam(params, "running")
		if err != nil {
			return nil, err
		}
		return SetFunctionStatus(entityID, running)
	case ActionSetWidgetValue:
		v, err := intParam(params, "value")
		if err != nil {
			return nil, err
		}
		return SetWidgetValue(entityID, v)
	case ActionPressButton:
		pressed, err := BoolParam(params, "pressed")
		if err != nil {
			return nil, err
		}
		return PressButton(entityID, pressed)
	case ActionToggleButton:
		return ToggleButton(entityID)
	case ActionSetCueListStep:
		step, err := intParam(params, "step")
		if err != nil {
			return nil, err
		}
		return SetCueListStep(entityID, step)
	case ActionSetFramePage:
		page, err := intParam(params, "page")
		if err != nil {
			return nil, err
		}
		return SetFramePage(entityID, page)
	case ActionSetXYPad:
		x, err := intParam(params, "x")
		if err != nil {
			return nil, err
		}
		y, err := intParam(params, "y")
		if err != nil {
			return nil, err
		}
		return SetXYPad(entityID, x, y)
	case ActionSetSpeedDial:
		ms, err := intParam(params, "speed_ms")
		if err != nil {
			return nil, err
		}
		return SetSpeedDial(entityID, ms)
	case ActionSetBlackout:
		on, err := BoolParam(params, "on")
		if err != nil {
			return nil, err
		}
		return SetBlackout(on), nil
	case ActionLoadProject:
		path, err := stringParam(params, "path")
		if err != nil {
			return nil, err
		}
		return LoadProject(path)
	case ActionRaw:
		line, err := stringParam(params, "line")
		if err != nil {
			return nil, err
		}
		return RawCommand(line)
	default:
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidCommand, action)
	}
}

// intParam reads an integer parameter. JSON numbers arrive as float64.
func intParam(params map[string]any, key string) (int, error) {
	raw, ok := params[key]
	if !ok {
		return 0, fmt.Errorf("%w: missing parameter %q", ErrInvalidCommand, key)
	}
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("%w: parameter %q must be an integer", ErrInvalidCommand, key)
		}
		return int(v), nil
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%w: parameter %q: %w", ErrInvalidCommand, key, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%w: parameter %q has type %T", ErrInvalidCommand, key, raw)
	}
}

// BoolParam reads a boolean action parameter. 0/1 numbers and
// strconv.ParseBool strings are accepted.
func BoolParam(params map[string]any, key string) (bool, error) {
	raw, ok := params[key]
	if !ok {
		return false, fmt.Errorf("%w: missing parameter %q", ErrInvalidCommand, key)
	}
	switch v := raw.(type) {
	case bool:
		return v, nil
	case float64:
		return v != 0, nil
	case int:
		return v != 0, nil
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("%w: parameter %q: %w", ErrInvalidCommand, key, err)
		}
		return b, nil
	default:
		return false, fmt.Errorf("%w: parameter %q has type %T", ErrInvalidCommand, key, raw)
	}
}

func stringParam(params map[string]any, key string) (string, error) {
	v, ok := params[key].(string)
	if !ok {
		return "", fmt.Errorf("%w: parameter %q must be a string", ErrInvalidCommand, key)
	}
	return v, nil
}
