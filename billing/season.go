package billing

// SeasonState is the lifecycle state of a (school, season) pair.
type SeasonState string

const (
	SeasonOpen   SeasonState = "open"
	SeasonClosed SeasonState = "closed"
)

// StateOf derives the pair's state from its closure record.
func StateOf(closure *SeasonClosure) SeasonState {
	if closure == nil {
		return SeasonOpen
	}
	return SeasonClosed
}

// ValidateSeasonTransition allows Open -> Closed only. Closed is terminal and
// re-closing is reported, not silently accepted.
func ValidateSeasonTransition(current, target SeasonState) error {
	switch {
	case current == SeasonOpen && target == SeasonClosed:
		return nil
	case current == SeasonClosed && target == SeasonClosed:
		return ErrAlreadyClosed
	default:
		return ErrInvalidTransition
	}
}
