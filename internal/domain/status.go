package domain

// BookingStatus is a closed set. reserved is the only non-terminal state;
// every transition goes through CanTransition so an invalid flip is caught
// before it reaches the store.
type BookingStatus string

const (
	BookingReserved  BookingStatus = "reserved"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
	BookingExpired   BookingStatus = "expired"
)

var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingReserved:  {BookingConfirmed, BookingCancelled, BookingExpired},
	BookingConfirmed: {},
	BookingCancelled: {},
	BookingExpired:   {},
}

func (s BookingStatus) Valid() bool {
	_, ok := bookingTransitions[s]
	return ok
}

func (s BookingStatus) Terminal() bool {
	next, ok := bookingTransitions[s]
	return ok && len(next) == 0
}

func (s BookingStatus) CanTransition(to BookingStatus) bool {
	for _, n := range bookingTransitions[s] {
		if n == to {
			return true
		}
	}
	return false
}

type TicketStatus string

const (
	TicketAvailable TicketStatus = "available"
	TicketSold      TicketStatus = "sold"
)

// Tickets only move available -> sold, on booking confirmation. A ticket
// under an active reservation stays available; the reservation itself is
// what blocks a second booking.
func (s TicketStatus) CanTransition(to TicketStatus) bool {
	return s == TicketAvailable && to == TicketSold
}
