package tracking

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/freightlane-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/freightlane-backend/pkg/errors"
)

// Subject is what an observer wants to follow: a whole order, or one of its assignments.
type Subject struct {
	OrderID      uuid.UUID
	AssignmentID *uuid.UUID
}

func (s Subject) String() string {
	if s.AssignmentID != nil {
		return fmt.Sprintf("order:%s/assignment:%s", s.OrderID, *s.AssignmentID)
	}
	return "order:" + s.OrderID.String()
}

// Sample is one position report from a driver device.
type Sample struct {
	DriverID   uuid.UUID `json:"driverId"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Heading    *float64  `json:"heading,omitempty"`
	SpeedKPH   *float64  `json:"speedKph,omitempty"`
	AccuracyM  *float64  `json:"accuracyM,omitempty"`
	RecordedAt time.Time `json:"recordedAt"`
}

func (s Sample) validate() error {
	if s.DriverID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "driver id required")
	}
	if math.IsNaN(s.Lat) || math.IsNaN(s.Lng) || s.Lat < -90 || s.Lat > 90 || s.Lng < -180 || s.Lng > 180 {
		return pkgerrors.New(pkgerrors.CodeValidation, "coordinates out of range").
			WithDetails(map[string]any{"lat": s.Lat, "lng": s.Lng})
	}
	if s.Heading != nil && (*s.Heading < 0 || *s.Heading >= 360) {
		return pkgerrors.New(pkgerrors.CodeValidation, "heading must be within [0, 360)")
	}
	return nil
}

// CurrentPosition is what observers receive.
type CurrentPosition struct {
	FreightOrderID     uuid.UUID            `json:"freightOrderId"`
	AssignmentID       *uuid.UUID           `json:"assignmentId,omitempty"`
	DriverID           *uuid.UUID           `json:"driverId,omitempty"`
	Lat                float64              `json:"lat"`
	Lng                float64              `json:"lng"`
	Heading            *float64             `json:"heading,omitempty"`
	Source             enums.LocationSource `json:"source"`
	RecordedAt         time.Time            `json:"recordedAt"`
	Online             bool                 `json:"online"`
	SecondsSinceUpdate int64                `json:"secondsSinceUpdate"`
}

// refresh recomputes the age-derived fields at now.
func (p *CurrentPosition) refresh(now time.Time, onlineThreshold time.Duration) {
	age := now.Sub(p.RecordedAt)
	if age < 0 {
		age = 0
	}
	p.SecondsSinceUpdate = int64(age / time.Second)
	p.Online = p.Source == enums.LocationSourceLive && age < onlineThreshold
}

func fromSample(subject Subject, assignmentID uuid.UUID, s Sample) *CurrentPosition {
	driverID := s.DriverID
	return &CurrentPosition{
		FreightOrderID: subject.OrderID,
		AssignmentID:   &assignmentID,
		DriverID:       &driverID,
		Lat:            s.Lat,
		Lng:            s.Lng,
		Heading:        s.Heading,
		Source:         enums.LocationSourceLive,
		RecordedAt:     s.RecordedAt,
	}
}
