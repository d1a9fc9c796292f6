package application

// Inbound commands from the API layer. Validation happens before any state
// change; a malformed command never reaches the database.

type FlightDetails struct {
	FlightNumber string `json:"flight_number" validate:"required"`
	FareClass    string `json:"fare_class" validate:"required"`
	Seats        int    `json:"seats" validate:"required,gt=0"`
}

type HotelDetails struct {
	HotelID  string `json:"hotel_id" validate:"required"`
	RoomType string `json:"room_type" validate:"required"`
	CheckIn  string `json:"check_in" validate:"required,datetime=2006-01-02"`
	CheckOut string `json:"check_out" validate:"required,datetime=2006-01-02"`
	Rooms    int    `json:"rooms" validate:"required,gt=0"`
}

type PaymentDetails struct {
	Method string `json:"method" validate:"required,oneof=CARD WALLET BANK_TRANSFER"`
}

type CreateBooking struct {
	BookingID   string         `json:"booking_id" validate:"required"`
	UserID      string         `json:"user_id" validate:"required"`
	BookingType string         `json:"booking_type" validate:"required,oneof=FLIGHT HOTEL FLIGHT_AND_HOTEL"`
	TotalAmount int64          `json:"total_amount" validate:"required,gt=0"`
	Currency    string         `json:"currency" validate:"required,len=3"`
	Flight      *FlightDetails `json:"flight,omitempty"`
	Hotel       *HotelDetails  `json:"hotel,omitempty"`
	Payment     PaymentDetails `json:"payment"`
}

type CancelBooking struct {
	BookingID string `json:"booking_id" validate:"required"`
	SagaID    string `json:"saga_id" validate:"required"`
	UserID    string `json:"user_id" validate:"required"`
	Reason    string `json:"reason"`
}
