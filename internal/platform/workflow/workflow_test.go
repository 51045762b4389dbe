package workflow

import (
	"testing"

	"github.com/lims/lims/internal/platform/apperr"
)

type light string

const (
	red    light = "RED"
	green  light = "GREEN"
	yellow light = "YELLOW"
	broken light = "BROKEN"
)

var lights = Machine[light]{
	Entity: "light",
	Order:  []light{red, green, yellow},
	Edges: map[light][]light{
		red:    {green, broken},
		green:  {yellow, broken},
		yellow: {red, broken},
		broken: {},
	},
}

func TestValidate(t *testing.T) {
	if err := lights.Validate(red, green); err != nil {
		t.Errorf("expected red->green to be allowed: %v", err)
	}
	if err := lights.Validate(red, red); err != nil {
		t.Errorf("expected same-status update to be a no-op: %v", err)
	}
	if err := lights.Validate(red, yellow); !apperr.Is(err, apperr.KindInvalidState) {
		t.Errorf("expected invalid state for red->yellow, got %v", err)
	}
	if err := lights.Validate(red, light("BLUE")); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("expected validation error for unknown status, got %v", err)
	}
	if err := lights.Validate(broken, red); !apperr.Is(err, apperr.KindInvalidState) {
		t.Errorf("expected terminal status to be final, got %v", err)
	}
}

func TestAdvance(t *testing.T) {
	cur := red
	if !lights.Advance(&cur, yellow) || cur != yellow {
		t.Errorf("expected advance through green to yellow, got %s", cur)
	}
	if lights.Advance(&cur, green) || cur != yellow {
		t.Errorf("expected advance to never regress, got %s", cur)
	}
	if lights.Advance(&cur, broken) {
		t.Error("expected advance to never enter an alternate terminal")
	}
	cur = broken
	if lights.Advance(&cur, yellow) {
		t.Error("expected no advance out of a terminal status")
	}
}

func TestTerminal(t *testing.T) {
	if !lights.Terminal(broken) || lights.Terminal(red) || lights.Terminal(light("X")) {
		t.Error("unexpected terminal classification")
	}
}
