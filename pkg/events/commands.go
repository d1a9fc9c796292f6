package events

// Command event types published by the orchestrator on booking.outbox.
const (
	TypeBookingInitiated = "BookingInitiated"
	TypeReserveFlight    = "ReserveFlight"
	TypeCancelFlight     = "CancelFlight"
	TypeReserveHotel     = "ReserveHotel"
	TypeCancelHotel      = "CancelHotel"
	TypeProcessPayment   = "ProcessPayment"
	TypeRefundPayment    = "RefundPayment"
)

type BookingInitiated struct {
	SagaID      string `json:"saga_id"`
	BookingID   string `json:"booking_id"`
	UserID      string `json:"user_id"`
	BookingType string `json:"booking_type"`
	TotalAmount int64  `json:"total_amount"`
	Currency    string `json:"currency"`
}

// ReserveFlight asks the flight service to hold seats. IdempotencyKey is
// derived from (sagaID, step) so a redelivered command cannot double-reserve.
type ReserveFlight struct {
	SagaID         string `json:"saga_id"`
	BookingID      string `json:"booking_id"`
	IdempotencyKey string `json:"idempotency_key"`
	FlightNumber   string `json:"flight_number"`
	FareClass      string `json:"fare_class"`
	Seats          int    `json:"seats"`
}

type CancelFlight struct {
	SagaID         string `json:"saga_id"`
	BookingID      string `json:"booking_id"`
	IdempotencyKey string `json:"idempotency_key"`
	FlightNumber   string `json:"flight_number"`
	FareClass      string `json:"fare_class"`
}

type ReserveHotel struct {
	SagaID         string `json:"saga_id"`
	BookingID      string `json:"booking_id"`
	IdempotencyKey string `json:"idempotency_key"`
	HotelID        string `json:"hotel_id"`
	RoomType       string `json:"room_type"`
	CheckIn        string `json:"check_in"`
	CheckOut       string `json:"check_out"`
	Rooms          int    `json:"rooms"`
}

type CancelHotel struct {
	SagaID         string `json:"saga_id"`
	BookingID      string `json:"booking_id"`
	IdempotencyKey string `json:"idempotency_key"`
	HotelID        string `json:"hotel_id"`
	RoomType       string `json:"room_type"`
	CheckIn        string `json:"check_in"`
}

type ProcessPayment struct {
	SagaID         string `json:"saga_id"`
	BookingID      string `json:"booking_id"`
	IdempotencyKey string `json:"idempotency_key"`
	UserID         string `json:"user_id"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	Method         string `json:"method"`
}

type RefundPayment struct {
	SagaID         string `json:"saga_id"`
	BookingID      string `json:"booking_id"`
	IdempotencyKey string `json:"idempotency_key"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
}
