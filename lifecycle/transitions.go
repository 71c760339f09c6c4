package lifecycle

import "github.com/oar-cd/bubble/domain"

// Action is a lifecycle verb
type Action string

const (
	ActionStart        Action = "start"
	ActionPause        Action = "pause"
	ActionResume       Action = "resume"
	ActionArchive      Action = "archive"
	ActionReconstitute Action = "reconstitute"
	ActionDestroy      Action = "destroy"
)

var transitions = map[Action]map[domain.BubbleState]domain.BubbleState{
	ActionStart: {
		domain.BubbleStateCreated: domain.BubbleStateRunning,
	},
	ActionPause: {
		domain.BubbleStateRunning: domain.BubbleStatePaused,
	},
	ActionResume: {
		domain.BubbleStatePaused: domain.BubbleStateRunning,
	},
	ActionArchive: {
		domain.BubbleStateRunning: domain.BubbleStateArchived,
		domain.BubbleStatePaused:  domain.BubbleStateArchived,
	},
	ActionReconstitute: {
		domain.BubbleStateArchived: domain.BubbleStateRunning,
	},
	ActionDestroy: {
		domain.BubbleStateCreated:  domain.BubbleStateDestroyed,
		domain.BubbleStateRunning:  domain.BubbleStateDestroyed,
		domain.BubbleStatePaused:   domain.BubbleStateDestroyed,
		domain.BubbleStateArchived: domain.BubbleStateDestroyed,
	},
}

// Next returns the state action leads to from state from
func Next(from domain.BubbleState, action Action) (domain.BubbleState, bool) {
	to, ok := transitions[action][from]
	return to, ok
}

// checkTransition returns an InvalidTransitionError when action is not allowed for b
func checkTransition(b *domain.Bubble, action Action) (domain.BubbleState, error) {
	to, ok := Next(b.State, action)
	if !ok {
		return b.State, &domain.InvalidTransitionError{Name: b.Name, From: b.State, Action: string(action)}
	}
	return to, nil
}
