package auction

// IncrementThreshold is the bid at which raise steps escalate.
const IncrementThreshold = 5000

// Step selects one of the two raise buttons offered to a captain.
type Step int

const (
	StepSmall Step = iota
	StepLarge
)

// String returns the step name used on the command surface.
func (s Step) String() string {
	if s == StepLarge {
		return "large"
	}
	return "small"
}

// ParseStep maps "small"/"large" to a Step.
func ParseStep(v string) (Step, bool) {
	switch v {
	case "small":
		return StepSmall, true
	case "large":
		return StepLarge, true
	}
	return StepSmall, false
}

// Increments returns the small and large raise amounts for the current bid.
func Increments(currentBid int) (small, large int) {
	if currentBid < IncrementThreshold {
		return 100, 500
	}
	return 500, 1000
}

// Increment returns the raise amount for the given step.
func Increment(currentBid int, step Step) int {
	small, large := Increments(currentBid)
	if step == StepLarge {
		return large
	}
	return small
}

// NextBid is the bid produced by raising currentBid by step.
func NextBid(currentBid int, step Step) int {
	return currentBid + Increment(currentBid, step)
}

// Affordable reports whether a team with the given purse may raise
// currentBid by step.
func Affordable(purse, currentBid int, step Step) bool {
	return purse >= NextBid(currentBid, step)
}
