package models

// AccountStatus is the login lifecycle stage of a Person.
type AccountStatus string

const (
	AccountUnregistered AccountStatus = "unregistered"
	AccountRegistered   AccountStatus = "registered"
	AccountRemoved      AccountStatus = "removed"
)

// accountTransitions lists the allowed next states. removed is terminal and nothing
// re-enters unregistered.
var accountTransitions = map[AccountStatus][]AccountStatus{
	AccountUnregistered: {AccountRegistered, AccountRemoved},
	AccountRegistered:   {AccountRemoved},
	AccountRemoved:      nil,
}

// Valid reports whether s is a known status.
func (s AccountStatus) Valid() bool {
	_, ok := accountTransitions[s]
	return ok
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s AccountStatus) CanTransitionTo(next AccountStatus) bool {
	for _, allowed := range accountTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// CanAuthenticate reports whether a person in this state may log in.
func (s AccountStatus) CanAuthenticate() bool {
	return s == AccountRegistered
}
