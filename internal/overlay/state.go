// Package overlay holds the shared match overlay state and pushes every
// change to connected viewers over WebSocket.
package overlay

import (
	"errors"
	"fmt"
)

// Team is one side of the overlay.
type Team struct {
	Score          int    `json:"score"`
	Name           string `json:"name"`
	PrimaryColor   string `json:"primaryColor"`
	SecondaryColor string `json:"secondaryColor"`
	LogoURL        string `json:"logoUrl"`
}

// State is the full overlay document.
type State struct {
	Blue                Team  `json:"blue"`
	Red                 Team  `json:"red"`
	MaxScore            int   `json:"maxScore"`
	CameraControlsCover *bool `json:"cameraControlsCover,omitempty"`
}

// ErrInvalidState wraps every validation failure.
var ErrInvalidState = errors.New("invalid overlay state")

// DefaultState is the state before the first update.
func DefaultState() State {
	cover := false
	return State{MaxScore: 2, CameraControlsCover: &cover}
}

// Validate checks scores against MaxScore and that both teams are complete
// and distinct.
func (s State) Validate() error {
	if s.MaxScore < 1 {
		return fmt.Errorf("%w: maxScore must be >= 1", ErrInvalidState)
	}
	if err := s.Blue.validate("blue", s.MaxScore); err != nil {
		return err
	}
	if err := s.Red.validate("red", s.MaxScore); err != nil {
		return err
	}
	if s.Blue.Name == s.Red.Name {
		return fmt.Errorf("%w: team names cannot be the same", ErrInvalidState)
	}
	return nil
}

func (t Team) validate(side string, maxScore int) error {
	switch {
	case t.Score < 0:
		return fmt.Errorf("%w: %s.score must be >= 0", ErrInvalidState, side)
	case t.Score > maxScore:
		return fmt.Errorf("%w: %s.score cannot exceed maxScore", ErrInvalidState, side)
	case t.Name == "":
		return fmt.Errorf("%w: %s.name is required", ErrInvalidState, side)
	case t.PrimaryColor == "":
		return fmt.Errorf("%w: %s.primaryColor is required", ErrInvalidState, side)
	case t.SecondaryColor == "":
		return fmt.Errorf("%w: %s.secondaryColor is required", ErrInvalidState, side)
	case t.LogoURL == "":
		return fmt.Errorf("%w: %s.logoUrl is required", ErrInvalidState, side)
	}
	return nil
}

func (s State) clone() State {
	if s.CameraControlsCover != nil {
		cover := *s.CameraControlsCover
		s.CameraControlsCover = &cover
	}
	return s
}
