package domain

import "fmt"

// BubbleState represents the lifecycle state of a bubble
type BubbleState int

const (
	BubbleStateUnknown BubbleState = iota
	BubbleStateCreated
	BubbleStateRunning
	BubbleStatePaused
	BubbleStateArchived
	BubbleStateDestroyed
)

func (s BubbleState) String() string {
	switch s {
	case BubbleStateCreated:
		return "created"
	case BubbleStateRunning:
		return "running"
	case BubbleStatePaused:
		return "paused"
	case BubbleStateArchived:
		return "archived"
	case BubbleStateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

func ParseBubbleState(s string) (BubbleState, error) {
	switch s {
	case "created":
		return BubbleStateCreated, nil
	case "running":
		return BubbleStateRunning, nil
	case "paused":
		return BubbleStatePaused, nil
	case "archived":
		return BubbleStateArchived, nil
	case "destroyed":
		return BubbleStateDestroyed, nil
	case "unknown":
		return BubbleStateUnknown, nil
	default:
		return BubbleStateUnknown, fmt.Errorf("invalid bubble state: %q", s)
	}
}

func (s BubbleState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *BubbleState) UnmarshalText(text []byte) error {
	parsed, err := ParseBubbleState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// TargetKind tells what a target points at within a repository
type TargetKind int

const (
	TargetKindDefault TargetKind = iota
	TargetKindPullRequest
	TargetKindBranch
	TargetKindCommit
)

func (k TargetKind) String() string {
	switch k {
	case TargetKindPullRequest:
		return "pull_request"
	case TargetKindBranch:
		return "branch"
	case TargetKindCommit:
		return "commit"
	default:
		return "default"
	}
}

func ParseTargetKind(s string) (TargetKind, error) {
	switch s {
	case "pull_request":
		return TargetKindPullRequest, nil
	case "branch":
		return TargetKindBranch, nil
	case "commit":
		return TargetKindCommit, nil
	case "default", "":
		return TargetKindDefault, nil
	default:
		return TargetKindDefault, fmt.Errorf("invalid target kind: %q", s)
	}
}

func (k TargetKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *TargetKind) UnmarshalText(text []byte) error {
	parsed, err := ParseTargetKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// RelayOutcome is the result of an admission decision
type RelayOutcome int

const (
	RelayOutcomeUnknown RelayOutcome = iota
	RelayOutcomeAccepted
	RelayOutcomeRejected
)

func (o RelayOutcome) String() string {
	switch o {
	case RelayOutcomeAccepted:
		return "accepted"
	case RelayOutcomeRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

func ParseRelayOutcome(s string) (RelayOutcome, error) {
	switch s {
	case "accepted":
		return RelayOutcomeAccepted, nil
	case "rejected":
		return RelayOutcomeRejected, nil
	case "unknown":
		return RelayOutcomeUnknown, nil
	default:
		return RelayOutcomeUnknown, fmt.Errorf("invalid relay outcome: %q", s)
	}
}
