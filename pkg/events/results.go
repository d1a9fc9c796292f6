package events

// Result event types emitted by the reservation handlers on their own outbox
// topics and consumed by the orchestrator.
const (
	TypeFlightReserved          = "FlightReserved"
	TypeFlightReservationFailed = "FlightReservationFailed"
	TypeFlightCancelled         = "FlightCancelled"
	TypeHotelReserved           = "HotelReserved"
	TypeHotelReservationFailed  = "HotelReservationFailed"
	TypeHotelCancelled          = "HotelCancelled"
	TypePaymentProcessed        = "PaymentProcessed"
	TypePaymentFailed           = "PaymentFailed"
	TypePaymentRefunded         = "PaymentRefunded"
)

type FlightReserved struct {
	SagaID        string `json:"saga_id"`
	BookingID     string `json:"booking_id"`
	ReservationID string `json:"reservation_id"`
}

// Retryable distinguishes a transient refusal (lock busy) the orchestrator may
// re-issue from a definitive one (no seats) that triggers compensation.
type FlightReservationFailed struct {
	SagaID    string `json:"saga_id"`
	BookingID string `json:"booking_id"`
	Reason    string `json:"reason"`
	Retryable bool   `json:"retryable"`
}

type FlightCancelled struct {
	SagaID    string `json:"saga_id"`
	BookingID string `json:"booking_id"`
}

type HotelReserved struct {
	SagaID        string `json:"saga_id"`
	BookingID     string `json:"booking_id"`
	ReservationID string `json:"reservation_id"`
}

type HotelReservationFailed struct {
	SagaID    string `json:"saga_id"`
	BookingID string `json:"booking_id"`
	Reason    string `json:"reason"`
	Retryable bool   `json:"retryable"`
}

type HotelCancelled struct {
	SagaID    string `json:"saga_id"`
	BookingID string `json:"booking_id"`
}

type PaymentProcessed struct {
	SagaID        string `json:"saga_id"`
	BookingID     string `json:"booking_id"`
	TransactionID string `json:"transaction_id"`
	Provider      string `json:"provider"`
}

type PaymentFailed struct {
	SagaID    string `json:"saga_id"`
	BookingID string `json:"booking_id"`
	Reason    string `json:"reason"`
	Retryable bool   `json:"retryable"`
}

type PaymentRefunded struct {
	SagaID        string `json:"saga_id"`
	BookingID     string `json:"booking_id"`
	TransactionID string `json:"transaction_id"`
}
