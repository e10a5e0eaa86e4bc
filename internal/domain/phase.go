package domain

import "fmt"

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAuthenticating
	PhaseConnecting
	PhaseReady
	PhaseRunning
	PhaseDisconnecting
	PhaseClosed
	PhaseFailed
)

var phaseNames = map[Phase]string{
	PhaseIdle:           "idle",
	PhaseAuthenticating: "authenticating",
	PhaseConnecting:     "connecting",
	PhaseReady:          "ready",
	PhaseRunning:        "running",
	PhaseDisconnecting:  "disconnecting",
	PhaseClosed:         "closed",
	PhaseFailed:         "failed",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

func (p Phase) Terminal() bool {
	return p == PhaseClosed || p == PhaseFailed
}

var phaseTransitions = map[Phase][]Phase{
	PhaseIdle:           {PhaseAuthenticating},
	PhaseAuthenticating: {PhaseConnecting, PhaseFailed},
	PhaseConnecting:     {PhaseReady, PhaseFailed},
	PhaseReady:          {PhaseRunning, PhaseFailed},
	PhaseRunning:        {PhaseDisconnecting, PhaseFailed},
	PhaseDisconnecting:  {PhaseClosed, PhaseFailed},
}

func (p Phase) CanTransition(next Phase) bool {
	for _, allowed := range phaseTransitions[p] {
		if allowed == next {
			return true
		}
	}
	return false
}
