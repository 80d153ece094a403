// Package workerproto defines the contract between the supervisor and worker
// processes.
//
// A worker learns its application id from the SteamAppId environment
// variable and its role from IDLEFARM_WORKER_KIND. Achievement workers read
// newline-delimited JSON commands from stdin; session workers read nothing.
// Both run until killed.
package workerproto

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	// EnvAppID carries the Steam application id a worker impersonates.
	EnvAppID = "SteamAppId"
	// EnvKind carries the worker Kind.
	EnvKind = "IDLEFARM_WORKER_KIND"
)

// Kind selects how a worker is launched.
type Kind string

const (
	// KindSession keeps a presence session alive.
	KindSession Kind = "session"
	// KindAchievements additionally accepts unlock commands.
	KindAchievements Kind = "achievements"
)

// Valid reports whether k is a known worker kind.
func (k Kind) Valid() bool {
	return k == KindSession || k == KindAchievements
}

// HasControlChannel reports whether workers of this kind read commands.
func (k Kind) HasControlChannel() bool {
	return k == KindAchievements
}

// CommandType enumerates inbound worker commands.
type CommandType string

// CommandUnlockEvent asks the worker to unlock one achievement.
const CommandUnlockEvent CommandType = "UNLOCK_EVENT"

// Command is one control message written to a worker.
type Command struct {
	Type    CommandType `json:"type"`
	Payload string      `json:"payload"`
}

// UnlockEvent builds an unlock command for eventID.
func UnlockEvent(eventID string) Command {
	return Command{Type: CommandUnlockEvent, Payload: eventID}
}

// Validate checks that the command is one a worker understands.
func (c Command) Validate() error {
	switch c.Type {
	case CommandUnlockEvent:
		if strings.TrimSpace(c.Payload) == "" {
			return errors.New("unlock command requires an event id")
		}
		return nil
	default:
		return fmt.Errorf("unknown command type %q", c.Type)
	}
}

// Encode renders the command as a single JSON line.
func Encode(c Command) ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode command: %w", err)
	}
	return append(data, '\n'), nil
}

// Decode parses one command line.
func Decode(line []byte) (Command, error) {
	var c Command
	if err := json.Unmarshal(line, &c); err != nil {
		return Command{}, fmt.Errorf("decode command: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Command{}, err
	}
	return c, nil
}
