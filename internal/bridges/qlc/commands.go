package qlc

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Query verbs of the QLC+ web API.
const (
	VerbGetFunctionsList  = "getFunctionsList"
	VerbGetFunctionType   = "getFunctionType"
	VerbGetFunctionStatus = "getFunctionStatus"
	VerbSetFunctionStatus = "setFunctionStatus"
	VerbGetWidgetsList    = "getWidgetsList"
	VerbGetWidgetType     = "getWidgetType"
	VerbSetBlackout       = "setBlackout"
	VerbLoadProject       = "loadProject"
)

// Widget value limits.
const (
	MinWidgetValue = 0
	MaxWidgetValue = 255
	MaxSpeedDialMS = 999999

	buttonPressed  = 255
	buttonReleased = 0

	// toggleReleaseDelay separates the press and release of a toggle.
	toggleReleaseDelay = 100 * time.Millisecond
)

// Command is one frame to send to the controller.
type Command struct {
	// Line is the full frame.
	Line string

	// ExpectReply makes Execute wait for the reply. Only namespaced
	// queries produce one.
	ExpectReply bool

	// Delay is waited before the frame is sent.
	Delay time.Duration
}

func fireAndForget(fields ...string) Command {
	return Command{Line: Encode(fields...)}
}

func query(fields ...string) Command {
	return Command{Line: Encode(append([]string{Namespace}, fields...)...), ExpectReply: true}
}

// RawCommand wraps an arbitrary frame. Namespaced frames wait for a reply.
func RawCommand(line string) ([]Command, error) {
	if line == "" {
		return nil, fmt.Errorf("%w: empty command", ErrInvalidCommand)
	}
	return []Command{{Line: line, ExpectReply: isQuery(line)}}, nil
}

// SetFunctionStatus starts or stops a function, then re-queries its status
// so the mirror reflects the result.
func SetFunctionStatus(functionID string, running bool) ([]Command, error) {
	if err := validateID(functionID); err != nil {
		return nil, err
	}
	status := "0"
	if running {
		status = "1"
	}
	return []Command{
		fireAndForget(Namespace, VerbSetFunctionStatus, functionID, status),
		query(VerbGetFunctionStatus, functionID),
	}, nil
}

// GetFunctionStatus queries one function's status.
func GetFunctionStatus(functionID string) ([]Command, error) {
	if err := validateID(functionID); err != nil {
		return nil, err
	}
	return []Command{query(VerbGetFunctionStatus, functionID)}, nil
}

// SetWidgetValue sets a slider, knob or button widget to a value in 0-255.
func SetWidgetValue(widgetID string, value int) ([]Command, error) {
	if err := validateID(widgetID); err != nil {
		return nil, err
	}
	if err := validateRange("value", value, MinWidgetValue, MaxWidgetValue); err != nil {
		return nil, err
	}
	return []Command{fireAndForget(widgetID, strconv.Itoa(value))}, nil
}

// PressButton presses (true) or releases (false) a button widget.
func PressButton(widgetID string, pressed bool) ([]Command, error) {
	if err := validateID(widgetID); err != nil {
		return nil, err
	}
	value := buttonReleased
	if pressed {
		value = buttonPressed
	}
	return []Command{fireAndForget(widgetID, strconv.Itoa(value))}, nil
}

// ToggleButton presses a button widget and releases it shortly after.
func ToggleButton(widgetID string) ([]Command, error) {
	if err := validateID(widgetID); err != nil {
		return nil, err
	}
	release := fireAndForget(widgetID, strconv.Itoa(buttonReleased))
	release.Delay = toggleReleaseDelay
	return []Command{
		fireAndForget(widgetID, strconv.Itoa(buttonPressed)),
		release,
	}, nil
}

// SetCueListStep jumps a cue list widget to a step.
func SetCueListStep(widgetID string, step int) ([]Command, error) {
	if err := validateID(widgetID); err != nil {
		return nil, err
	}
	if step < 0 {
		return nil, fmt.Errorf("%w: step %d must not be negative", ErrInvalidCommand, step)
	}
	return []Command{fireAndForget(widgetID, strconv.Itoa(step))}, nil
}

// SetFramePage switches a multi-page frame widget to a page.
func SetFramePage(widgetID string, page int) ([]Command, error) {
	if err := validateID(widgetID); err != nil {
		return nil, err
	}
	if page < 0 {
		return nil, fmt.Errorf("%w: page %d must not be negative", ErrInvalidCommand, page)
	}
	return []Command{fireAndForget(widgetID, strconv.Itoa(page))}, nil
}

// SetXYPad positions an XY pad widget. Both axes are 0-255.
func SetXYPad(widgetID string, x, y int) ([]Command, error) {
	if err := validateID(widgetID); err != nil {
		return nil, err
	}
	if err := validateRange("x", x, MinWidgetValue, MaxWidgetValue); err != nil {
		return nil, err
	}
	if err := validateRange("y", y, MinWidgetValue, MaxWidgetValue); err != nil {
		return nil, err
	}
	return []Command{fireAndForget(widgetID, strconv.Itoa(x), strconv.Itoa(y))}, nil
}

// SetSpeedDial sets a speed dial widget in milliseconds (0-999999).
func SetSpeedDial(widgetID string, ms int) ([]Command, error) {
	if err := validateID(widgetID); err != nil {
		return nil, err
	}
	if err := validateRange("speed", ms, 0, MaxSpeedDialMS); err != nil {
		return nil, err
	}
	return []Command{fireAndForget(widgetID, strconv.Itoa(ms))}, nil
}

// SetBlackout switches the global blackout on or off.
func SetBlackout(on bool) []Command {
	state := "0"
	if on {
		state = "1"
	}
	return []Command{fireAndForget(Namespace, VerbSetBlackout, state)}
}

// LoadProject asks the controller to load a workspace file.
func LoadProject(path string) ([]Command, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: project path is required", ErrInvalidCommand)
	}
	if strings.Contains(path, FieldSeparator) {
		return nil, fmt.Errorf("%w: project path must not contain %q", ErrInvalidCommand, FieldSeparator)
	}
	return []Command{fireAndForget(Namespace, VerbLoadProject, path)}, nil
}

// Execute sends commands in order, honouring each command's Delay.
//
// Replies to status queries are applied to the mirror. Execution stops at
// the first failure.
func (c *Client) Execute(ctx context.Context, cmds ...Command) error {
	for _, cmd := range cmds {
		if cmd.Delay > 0 {
			t := time.NewTimer(cmd.Delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}

		if !cmd.ExpectReply {
			if err := c.FireAndForget(ctx, cmd.Line); err != nil {
				return err
			}
			continue
		}

		reply, err := c.Query(ctx, cmd.Line)
		if err != nil {
			return err
		}
		fields := Decode(cmd.Line)
		if commandVerb(fields) == VerbGetFunctionStatus && len(fields) >= 3 {
			if status := ParseTypeReply(reply, VerbGetFunctionStatus); status != "" {
				c.applyFunctionStatus(fields[2], status)
			}
		}
	}
	return nil
}

func validateID(id string) error {
	if !isDigits(id) {
		return fmt.Errorf("%w: id %q must be numeric", ErrInvalidCommand, id)
	}
	return nil
}

func validateRange(name string, v, lo, hi int) error {
	if v < lo || v > hi {
		return fmt.Errorf("%w: %s %d out of range %d-%d", ErrInvalidCommand, name, v, lo, hi)
	}
	return nil
}
