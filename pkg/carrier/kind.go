package carrier

// Kind is the carrier's last-known status for a parcel. The tracker's state
// machines only depend on this enumeration, never on carrier-specific codes.
type Kind string

const (
	KindAccepted       Kind = "ACCEPTED"
	KindPickedUp       Kind = "PICKED_UP"
	KindInTransit      Kind = "IN_TRANSIT"
	KindAtDestination  Kind = "AT_DESTINATION"
	KindOutForDelivery Kind = "OUT_FOR_DELIVERY"
	KindDelivered      Kind = "DELIVERED"
)

func (k Kind) IsValid() bool {
	switch k {
	case KindAccepted, KindPickedUp, KindInTransit, KindAtDestination, KindOutForDelivery, KindDelivered:
		return true
	default:
		return false
	}
}

// InTransit reports whether the parcel is moving but not yet delivered.
func (k Kind) InTransit() bool {
	switch k {
	case KindInTransit, KindAtDestination, KindOutForDelivery:
		return true
	default:
		return false
	}
}
