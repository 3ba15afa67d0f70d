// Package booking offers 30-minute strategy calls from the admin's calendar.
package booking

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
)

const (
	SlotDuration = 30 * time.Minute
	DateLayout   = "2006-01-02"
)

var (
	ErrMissingFields = errors.New("missing required booking fields")
	ErrInvalidEmail  = errors.New("invalid email address")
	ErrPastStart     = errors.New("booking start is in the past")
	ErrInvalidDate   = errors.New("date must be YYYY-MM-DD")
)

// Hours bounds the bookable part of a day, in whole hours of the booking
// time zone. End is exclusive.
type Hours struct {
	Start int
	End   int
}

var BusinessHours = Hours{Start: 9, End: 17}

// Interval is a half-open busy range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

type Booking struct {
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
	MeetLink  string    `json:"meetLink,omitempty"`
	EventID   string    `json:"eventId,omitempty"`
}

// Calendar is the remote calendar holding the admin's schedule.
type Calendar interface {
	FreeBusy(ctx context.Context, from, to time.Time) ([]Interval, error)
	InsertEvent(ctx context.Context, b Booking) (Booking, error)
}

// Slots lists the free slot starts of day. day's location is the booking
// time zone. Slots already past are skipped: when the business day has begun,
// the search starts at now rounded up to the next slot boundary.
func Slots(day, now time.Time, busy []Interval, hours Hours) []time.Time {
	loc := day.Location()
	y, m, d := day.Date()
	dayStart := time.Date(y, m, d, hours.Start, 0, 0, 0, loc)
	dayEnd := time.Date(y, m, d, hours.End, 0, 0, 0, loc)

	searchStart := dayStart
	if dayStart.Before(now) {
		searchStart = ceilSlot(now).In(loc)
	}
	if !searchStart.Before(dayEnd) {
		return []time.Time{}
	}

	slots := make([]time.Time, 0, int(dayEnd.Sub(searchStart)/SlotDuration))
	for cur := searchStart; cur.Before(dayEnd); cur = cur.Add(SlotDuration) {
		end := cur.Add(SlotDuration)
		if !overlaps(cur, end, busy) {
			slots = append(slots, cur)
		}
	}
	return slots
}

func ceilSlot(t time.Time) time.Time {
	rounded := t.Truncate(SlotDuration)
	if rounded.Before(t) {
		rounded = rounded.Add(SlotDuration)
	}
	return rounded
}

func overlaps(start, end time.Time, busy []Interval) bool {
	for _, b := range busy {
		if start.Before(b.End) && end.After(b.Start) {
			return true
		}
	}
	return false
}

type Service struct {
	calendar Calendar
	loc      *time.Location
	hours    Hours
	now      func() time.Time
}

func NewService(calendar Calendar, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{calendar: calendar, loc: loc, hours: BusinessHours, now: time.Now}
}

// ParseDate reads a YYYY-MM-DD day in the booking time zone.
func (s *Service) ParseDate(value string) (time.Time, error) {
	day, err := time.ParseInLocation(DateLayout, strings.TrimSpace(value), s.loc)
	if err != nil {
		return time.Time{}, ErrInvalidDate
	}
	return day, nil
}

func (s *Service) AvailableSlots(ctx context.Context, day time.Time) ([]time.Time, error) {
	day = day.In(s.loc)
	y, m, d := day.Date()
	from := time.Date(y, m, d, s.hours.Start, 0, 0, 0, s.loc)
	to := time.Date(y, m, d, s.hours.End, 0, 0, 0, s.loc)
	now := s.now()
	if !now.Before(to) {
		return []time.Time{}, nil
	}
	if from.Before(now) {
		from = ceilSlot(now)
	}

	busy, err := s.calendar.FreeBusy(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("query free/busy: %w", err)
	}
	return Slots(day, now, busy, s.hours), nil
}

func (s *Service) Create(ctx context.Context, name, email string, start time.Time) (Booking, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)
	if name == "" || email == "" || start.IsZero() {
		return Booking{}, ErrMissingFields
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return Booking{}, ErrInvalidEmail
	}
	if start.Before(s.now()) {
		return Booking{}, ErrPastStart
	}

	created, err := s.calendar.InsertEvent(ctx, Booking{
		Name:      name,
		Email:     email,
		StartTime: start.In(s.loc),
		EndTime:   start.Add(SlotDuration).In(s.loc),
	})
	if err != nil {
		return Booking{}, fmt.Errorf("insert event: %w", err)
	}
	return created, nil
}
