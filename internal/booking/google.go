package booking

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

const apiTimeout = 10 * time.Second

type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	CalendarID   string
	TimeZone     string
}

// GoogleCalendar implements Calendar with the Google Calendar API, acting as
// the admin through a long-lived refresh token.
type GoogleCalendar struct {
	svc        *calendar.Service
	calendarID string
	timeZone   string
}

func NewGoogleCalendar(ctx context.Context, cfg GoogleConfig) (*GoogleCalendar, error) {
	oauthConfig := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{calendar.CalendarScope},
	}
	tokenSource := oauthConfig.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})

	svc, err := calendar.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	return &GoogleCalendar{svc: svc, calendarID: cfg.CalendarID, timeZone: cfg.TimeZone}, nil
}

// NewWithHTTPClient creates a calendar against a custom endpoint (for testing).
func NewWithHTTPClient(ctx context.Context, httpClient *http.Client, endpoint, calendarID, timeZone string) (*GoogleCalendar, error) {
	svc, err := calendar.NewService(ctx, option.WithHTTPClient(httpClient), option.WithEndpoint(endpoint))
	if err != nil {
		return nil, err
	}
	return &GoogleCalendar{svc: svc, calendarID: calendarID, timeZone: timeZone}, nil
}

func (g *GoogleCalendar) FreeBusy(ctx context.Context, from, to time.Time) ([]Interval, error) {
	ctx, cancel := context.WithTimeout(ctx, apiTimeout)
	defer cancel()

	resp, err := g.svc.Freebusy.Query(&calendar.FreeBusyRequest{
		TimeMin: from.Format(time.RFC3339),
		TimeMax: to.Format(time.RFC3339),
		Items:   []*calendar.FreeBusyRequestItem{{Id: g.calendarID}},
	}).Context(ctx).Do()
	if err != nil {
		return nil, err
	}

	cal, ok := resp.Calendars[g.calendarID]
	if !ok {
		return nil, nil
	}
	busy := make([]Interval, 0, len(cal.Busy))
	for _, period := range cal.Busy {
		if period == nil || period.Start == "" || period.End == "" {
			continue
		}
		start, err := time.Parse(time.RFC3339, period.Start)
		if err != nil {
			return nil, fmt.Errorf("parse busy start %q: %w", period.Start, err)
		}
		end, err := time.Parse(time.RFC3339, period.End)
		if err != nil {
			return nil, fmt.Errorf("parse busy end %q: %w", period.End, err)
		}
		busy = append(busy, Interval{Start: start, End: end})
	}
	return busy, nil
}

// InsertEvent books the call, invites the guest and asks for a Meet link.
func (g *GoogleCalendar) InsertEvent(ctx context.Context, b Booking) (Booking, error) {
	ctx, cancel := context.WithTimeout(ctx, apiTimeout)
	defer cancel()

	event := &calendar.Event{
		Summary:     "Strategy Call: " + b.Name,
		Description: "Strategy call booked via website.\nEmail: " + b.Email,
		Start:       &calendar.EventDateTime{DateTime: b.StartTime.Format(time.RFC3339), TimeZone: g.timeZone},
		End:         &calendar.EventDateTime{DateTime: b.EndTime.Format(time.RFC3339), TimeZone: g.timeZone},
		Attendees:   []*calendar.EventAttendee{{Email: b.Email}},
		Reminders:   &calendar.EventReminders{UseDefault: true},
		ConferenceData: &calendar.ConferenceData{
			CreateRequest: &calendar.CreateConferenceRequest{
				RequestId:             "booking-" + uuid.NewString(),
				ConferenceSolutionKey: &calendar.ConferenceSolutionKey{Type: "hangoutsMeet"},
			},
		},
	}

	created, err := g.svc.Events.Insert(g.calendarID, event).
		ConferenceDataVersion(1).
		SendUpdates("all").
		Context(ctx).
		Do()
	if err != nil {
		return Booking{}, err
	}
	b.EventID = created.Id
	b.MeetLink = created.HangoutLink
	return b, nil
}
