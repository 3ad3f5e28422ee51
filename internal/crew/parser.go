// Package crew parses autobuild crew compositions produced by the
// generation capability.
package crew

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Agent is one member of a generated crew composition.
type Agent struct {
	Role          string `json:"role"`
	Title         string `json:"title,omitempty"`
	SystemMessage string `json:"system_message"`
}

// Composition is the parsed autobuild output.
type Composition struct {
	Message string  `json:"message"`
	Agents  []Agent `json:"agents"`
}

// ParseError reports unrecoverable autobuild output.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse autobuild composition: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

type envelope struct {
	Composition *struct {
		Message string  `json:"message"`
		Agents  []Agent `json:"agents"`
	} `json:"composition"`
}

// ParseAutobuild extracts the crew composition from generator output. It
// parses strictly first, then makes exactly one recovery attempt for the
// common truncation where the outer braces are missing. Anything else is a
// ParseError.
func ParseAutobuild(input string) (Composition, error) {
	input = strings.ReplaceAll(input, "\n", "")

	var env envelope
	if err := json.Unmarshal([]byte(input), &env); err != nil {
		// one bounded recovery attempt, then give up
		if err := json.Unmarshal([]byte("{"+input+"}"), &env); err != nil {
			return Composition{}, &ParseError{Err: err}
		}
	}

	if env.Composition == nil {
		return Composition{}, &ParseError{Err: fmt.Errorf("missing composition object")}
	}
	if len(env.Composition.Agents) == 0 {
		return Composition{}, &ParseError{Err: fmt.Errorf("composition has no agents")}
	}
	for i, agent := range env.Composition.Agents {
		if agent.Role == "" {
			return Composition{}, &ParseError{Err: fmt.Errorf("agent %d has no role", i)}
		}
		if agent.SystemMessage == "" {
			return Composition{}, &ParseError{Err: fmt.Errorf("agent %d has no system message", i)}
		}
	}

	return Composition{
		Message: env.Composition.Message,
		Agents:  env.Composition.Agents,
	}, nil
}
