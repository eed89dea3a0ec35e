package tracking

import (
	"errors"
	"fmt"
	"net/url"
)

// Standard ad-platform event names. Anything else is sent as a custom event.
const (
	EventPageView         = "PageView"
	EventViewContent      = "ViewContent"
	EventLead             = "Lead"
	EventCompleteReg      = "CompleteRegistration"
	EventInitiateCheckout = "InitiateCheckout"
	EventAddPaymentInfo   = "AddPaymentInfo"
	EventPurchase         = "Purchase"
	EventContact          = "Contact"
	EventSubscribe        = "Subscribe"
	EventSearch           = "Search"
	EventStartTrial       = "StartTrial"
	EventAddToCart        = "AddToCart"
)

var standardEvents = map[string]bool{
	EventPageView: true, EventViewContent: true, EventLead: true, EventCompleteReg: true,
	EventInitiateCheckout: true, EventAddPaymentInfo: true, EventPurchase: true,
	EventContact: true, EventSubscribe: true, EventSearch: true, EventStartTrial: true,
	EventAddToCart: true,
}

// IsStandardEvent reports whether name is one of the platform's standard events.
func IsStandardEvent(name string) bool { return standardEvents[name] }

// Attributes are person fields, each supplied only when known. They travel
// unhashed to the server endpoint; hashing happens there.
type Attributes struct {
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Gender    string `json:"gender,omitempty"`
	Birthdate string `json:"birthdate,omitempty"` // YYYYMMDD
	City      string `json:"city,omitempty"`
	State     string `json:"state,omitempty"`
	Country   string `json:"country,omitempty"` // ISO 3166-1 alpha-2, lowercase
	ZipCode   string `json:"zipCode,omitempty"`
}

// CustomData is event-specific metadata. Values are strings or numbers.
type CustomData map[string]any

// ErrBadCustomData is returned by CustomData.Validate.
var ErrBadCustomData = errors.New("customData values must be strings or numbers")

// Validate checks every value is a string or a number.
func (c CustomData) Validate() error {
	for k, v := range c {
		switch v.(type) {
		case string, float64, float32, int, int32, int64, uint, uint32, uint64:
		default:
			return fmt.Errorf("%w: key %q has %T", ErrBadCustomData, k, v)
		}
	}
	return nil
}

// Merge returns a copy of c with extra's keys added where c lacks them.
func (c CustomData) Merge(extra map[string]string) CustomData {
	out := make(CustomData, len(c)+len(extra))
	for k, v := range extra {
		out[k] = v
	}
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Params describe one logical occurrence to emit.
type Params struct {
	EventName  string
	Attributes Attributes
	CustomData CustomData
	SourceURL  string
	UserAgent  string
}

// ForwardRequest is the JSON body channel B posts to the server endpoint.
type ForwardRequest struct {
	EventName      string     `json:"eventName"`
	EventID        string     `json:"eventId"`
	ExternalID     string     `json:"externalId,omitempty"`
	Email          string     `json:"email,omitempty"`
	Phone          string     `json:"phone,omitempty"`
	FirstName      string     `json:"firstName,omitempty"`
	LastName       string     `json:"lastName,omitempty"`
	Gender         string     `json:"gender,omitempty"`
	Birthdate      string     `json:"birthdate,omitempty"`
	City           string     `json:"city,omitempty"`
	State          string     `json:"state,omitempty"`
	Country        string     `json:"country,omitempty"`
	ZipCode        string     `json:"zipCode,omitempty"`
	CustomData     CustomData `json:"customData,omitempty"`
	FBP            string     `json:"fbp,omitempty"`
	FBC            string     `json:"fbc,omitempty"`
	EventSourceURL string     `json:"eventSourceUrl,omitempty"`
	UserAgent      string     `json:"userAgent,omitempty"`
}

// Attributes returns the person fields carried by the request.
func (f ForwardRequest) Attributes() Attributes {
	return Attributes{
		Email: f.Email, Phone: f.Phone, FirstName: f.FirstName, LastName: f.LastName,
		Gender: f.Gender, Birthdate: f.Birthdate, City: f.City, State: f.State,
		Country: f.Country, ZipCode: f.ZipCode,
	}
}

func (f *ForwardRequest) setAttributes(a Attributes) {
	f.Email, f.Phone = a.Email, a.Phone
	f.FirstName, f.LastName = a.FirstName, a.LastName
	f.Gender, f.Birthdate = a.Gender, a.Birthdate
	f.City, f.State, f.Country, f.ZipCode = a.City, a.State, a.Country, a.ZipCode
}

// DeliveryError is a network or non-success outcome on a delivery channel.
type DeliveryError struct {
	Channel string
	Status  int
	Err     error
}

func (e *DeliveryError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s delivery failed (status %d): %v", e.Channel, e.Status, e.Err)
	}
	return fmt.Sprintf("%s delivery failed: %v", e.Channel, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

func pathOf(raw string) string {
	if raw == "" {
		return "/"
	}
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" {
		return "/"
	}
	return u.Path
}
