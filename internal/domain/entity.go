package domain

// EntityType names a syncable/cacheable entity kind.
type EntityType string

const (
	EntityDocument    EntityType = "document"
	EntityBooking     EntityType = "booking"
	EntityAccount     EntityType = "account"
	EntityTransaction EntityType = "transaction"
)

// Valid reports whether t is a known entity type.
func (t EntityType) Valid() bool {
	switch t {
	case EntityDocument, EntityBooking, EntityAccount, EntityTransaction:
		return true
	}
	return false
}
