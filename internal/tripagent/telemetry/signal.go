package telemetry

import (
	"fmt"
	"strings"
	"time"
)

// Kind identifies which latched vehicle signal a message updates.
type Kind int

const (
	Ignition Kind = iota
	Motion
	StopCommand
)

func (k Kind) String() string {
	switch k {
	case Ignition:
		return "ignition"
	case Motion:
		return "motion"
	case StopCommand:
		return "stop_command"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Signal is one normalized telemetry message. It is never mutated after
// it has been queued.
type Signal struct {
	Kind     Kind
	Value    bool
	Received time.Time
}

// ParseBool converts a telemetry payload to a boolean. Accepted forms are
// "1", "0", "true" and "false" (any case), surrounded by optional whitespace.
func ParseBool(payload []byte) (bool, error) {
	s := strings.TrimSpace(string(payload))
	switch {
	case s == "1" || strings.EqualFold(s, "true"):
		return true, nil
	case s == "0" || strings.EqualFold(s, "false"):
		return false, nil
	default:
		return false, fmt.Errorf("malformed boolean payload %q", s)
	}
}
