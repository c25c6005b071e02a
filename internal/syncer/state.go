package syncer

// SubState is the lifecycle of the change-notification subscription.
type SubState int

const (
	Unsubscribed SubState = iota
	Subscribing
	Subscribed
)

func (s SubState) String() string {
	switch s {
	case Subscribing:
		return "subscribing"
	case Subscribed:
		return "subscribed"
	default:
		return "unsubscribed"
	}
}
