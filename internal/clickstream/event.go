package clickstream

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"time"
)

// Topic is the broker topic every Event is published to.
const Topic = "user-activity-stream"

// TimestampLayout is the layout of Event.TimestampUTC.
const TimestampLayout = "2006-01-02T15:04:05Z"

const (
	MinAmount Amount = 5.00
	MaxAmount Amount = 450.00
)

// Action identifies what the user did.
type Action string

const (
	ActionPageView  Action = "page_view"
	ActionAddToCart Action = "add_to_cart"
	ActionPurchase  Action = "purchase"
	ActionLogout    Action = "logout"
	ActionLogin     Action = "login"
)

// Actions lists every valid Action.
var Actions = []Action{ActionPageView, ActionAddToCart, ActionPurchase, ActionLogout, ActionLogin}

// Platform identifies the device class the event originated from.
type Platform string

const (
	PlatformMobile  Platform = "mobile"
	PlatformDesktop Platform = "desktop"
	PlatformTablet  Platform = "tablet"
)

// Platforms lists every valid Platform.
var Platforms = []Platform{PlatformMobile, PlatformDesktop, PlatformTablet}

// Location is a synthetic geo-coordinate.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Amount is a monetary value in currency units. It always serializes with
// exactly two fractional digits.
type Amount float64

// NewAmount rounds v to cents.
func NewAmount(v float64) Amount {
	return Amount(math.Round(v*100) / 100)
}

func (a Amount) MarshalJSON() ([]byte, error) {
	f := float64(a)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("invalid amount %v", f)
	}

	return strconv.AppendFloat(nil, f, 'f', 2, 64), nil
}

// Event is one synthetic unit of clickstream activity. Events carry no
// references to other events and are encoded independently.
type Event struct {
	EventIdentifier string   `json:"event_identifier"`
	AccountID       string   `json:"account_id"`
	ActionName      Action   `json:"action_name"`
	SourcePath      string   `json:"source_path"`
	SessionToken    string   `json:"session_token"`
	PlatformType    Platform `json:"platform_type"`
	TimestampUTC    string   `json:"timestamp_utc"`
	Location        Location `json:"location"`
	// MonetaryValue is nil for events without a transaction and encodes as null.
	MonetaryValue *Amount `json:"monetary_value"`
}

// Key returns the publish key: the session token as raw UTF-8 bytes.
func (e Event) Key() []byte {
	return []byte(e.SessionToken)
}

// Encode serializes the event into its wire payload.
func (e Event) Encode() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event %s: %w", e.EventIdentifier, err)
	}

	return b, nil
}

// Validate returns the joined set of constraint violations, or nil.
func (e Event) Validate() error {
	var errs []error

	if e.EventIdentifier == "" {
		errs = append(errs, errors.New("event_identifier is empty"))
	}
	if e.AccountID == "" {
		errs = append(errs, errors.New("account_id is empty"))
	}
	if e.SessionToken == "" {
		errs = append(errs, errors.New("session_token is empty"))
	}
	if !slices.Contains(Actions, e.ActionName) {
		errs = append(errs, fmt.Errorf("unknown action_name %q", e.ActionName))
	}
	if !slices.Contains(Platforms, e.PlatformType) {
		errs = append(errs, fmt.Errorf("unknown platform_type %q", e.PlatformType))
	}
	if _, err := time.Parse(TimestampLayout, e.TimestampUTC); err != nil {
		errs = append(errs, fmt.Errorf("malformed timestamp_utc %q: %w", e.TimestampUTC, err))
	}
	if e.Location.Latitude < -90 || e.Location.Latitude > 90 {
		errs = append(errs, fmt.Errorf("latitude %v out of range", e.Location.Latitude))
	}
	if e.Location.Longitude < -180 || e.Location.Longitude > 180 {
		errs = append(errs, fmt.Errorf("longitude %v out of range", e.Location.Longitude))
	}
	if v := e.MonetaryValue; v != nil {
		if *v < MinAmount || *v > MaxAmount {
			errs = append(errs, fmt.Errorf("monetary_value %.2f out of range", float64(*v)))
		}
		if NewAmount(float64(*v)) != *v {
			errs = append(errs, fmt.Errorf("monetary_value %v has more than two decimals", float64(*v)))
		}
	}

	return errors.Join(errs...)
}

// DecodeEvent parses a wire payload back into an Event and validates it.
func DecodeEvent(payload []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(payload, &e); err != nil {
		return Event{}, fmt.Errorf("failed to decode event: %w", err)
	}

	if err := e.Validate(); err != nil {
		return Event{}, fmt.Errorf("invalid event %s: %w", e.EventIdentifier, err)
	}

	return e, nil
}
