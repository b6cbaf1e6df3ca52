// Package protocol defines the websocket messages exchanged with game
// clients. Client messages are decoded once into a closed set of types.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/okian/stablezoo/internal/domain/types"
)

// Client message type tags.
const (
	TypeStartSession   = "StartSession"
	TypeAnimalEaten    = "AnimalEaten"
	TypePlayerDied     = "PlayerDied"
	TypeGetLeaderboard = "GetLeaderboard"
)

// Decode errors. Their text is sent back to the client as the
// InvalidAction reason.
var (
	ErrMalformed     = errors.New("malformed message")
	ErrUnknownType   = errors.New("unknown message type")
	ErrInvalidAnimal = errors.New("invalid animal id")
	ErrInvalidValue  = errors.New("Invalid animal value") //nolint:staticcheck // client facing text
)

// ClientMessage is implemented by every message a client may send.
type ClientMessage interface {
	clientMessage()
}

type StartSession struct {
	PlayerName string
}

type AnimalEaten struct {
	AnimalID string
	Value    float64
}

type PlayerDied struct{}

type GetLeaderboard struct{}

func (StartSession) clientMessage()   {}
func (AnimalEaten) clientMessage()    {}
func (PlayerDied) clientMessage()     {}
func (GetLeaderboard) clientMessage() {}

type envelope struct {
	Type        string          `json:"type"`
	PlayerName  *string         `json:"player_name"`
	AnimalID    json.RawMessage `json:"animal_id"`
	AnimalValue json.RawMessage `json:"animal_value"`
}

// DecodeClient parses one client frame.
func DecodeClient(data []byte) (ClientMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, ErrMalformed
	}
	switch env.Type {
	case TypeStartSession:
		if env.PlayerName == nil {
			return StartSession{}, nil
		}
		return StartSession{PlayerName: *env.PlayerName}, nil
	case TypeAnimalEaten:
		id, err := decodeAnimalID(env.AnimalID)
		if err != nil {
			return nil, err
		}
		var value float64
		if len(env.AnimalValue) == 0 || json.Unmarshal(env.AnimalValue, &value) != nil {
			return nil, ErrInvalidValue
		}
		return AnimalEaten{AnimalID: id, Value: value}, nil
	case TypePlayerDied:
		return PlayerDied{}, nil
	case TypeGetLeaderboard:
		return GetLeaderboard{}, nil
	case "":
		return nil, ErrMalformed
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, env.Type)
	}
}

// decodeAnimalID accepts string or integer ids; clients generate both.
func decodeAnimalID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", ErrInvalidAnimal
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s = strings.TrimSpace(s); s != "" {
			return s, nil
		}
		return "", ErrInvalidAnimal
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return "", ErrInvalidAnimal
	}
	return n.String(), nil
}

// Reason maps a decode error to the client-facing InvalidAction reason.
func Reason(err error) string {
	for _, known := range []error{ErrUnknownType, ErrInvalidAnimal, ErrInvalidValue} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return ErrMalformed.Error()
}

// Server message type tags.
const (
	TypeSessionStarted = "SessionStarted"
	TypeScoreUpdated   = "ScoreUpdated"
	TypeInvalidAction  = "InvalidAction"
	TypeLeaderboard    = "Leaderboard"
)

type SessionStarted struct {
	Type         string `json:"type"`
	SessionToken string `json:"session_token"`
}

type ScoreUpdated struct {
	Type       string  `json:"type"`
	PlayerName string  `json:"player_name"`
	Rank       int     `json:"rank"`
	Score      float64 `json:"score"`
}

type InvalidAction struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

type Leaderboard struct {
	Type    string        `json:"type"`
	Entries []types.Entry `json:"entries"`
}

func NewSessionStarted(token string) SessionStarted {
	return SessionStarted{Type: TypeSessionStarted, SessionToken: token}
}

func NewScoreUpdated(player string, rank int, score float64) ScoreUpdated {
	return ScoreUpdated{Type: TypeScoreUpdated, PlayerName: player, Rank: rank, Score: score}
}

func NewInvalidAction(reason string) InvalidAction {
	return InvalidAction{Type: TypeInvalidAction, Reason: reason}
}

func NewLeaderboard(entries []types.Entry) Leaderboard {
	if entries == nil {
		entries = []types.Entry{}
	}
	return Leaderboard{Type: TypeLeaderboard, Entries: entries}
}
