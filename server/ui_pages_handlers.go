package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/jrsteele09/artvinci-web/apiclient"
	"github.com/jrsteele09/artvinci-web/credentials"
	apperrors "github.com/jrsteele09/artvinci-web/internal/errors"
	"github.com/jrsteele09/artvinci-web/tokenstore"
	"github.com/rs/zerolog/log"
)

// Location is where an event takes place.
type Location struct {
	Name    string `json:"name"`
	City    string `json:"city"`
	Country string `json:"country"`
}

// Event is the backend's description of an event.
type Event struct {
	Slug        string    `json:"slug"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	StartDate   string    `json:"start_date"`
	EndDate     string    `json:"end_date"`
	Location    *Location `json:"location,omitempty"`
}

// eventList accepts both a bare array and a paginated {"results": [...]} body.
type eventList []Event

func (l *eventList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		return json.Unmarshal(data, (*[]Event)(l))
	}
	var page struct {
		Results []Event `json:"results"`
	}
	if err := json.Unmarshal(data, &page); err != nil {
		return err
	}
	*l = page.Results
	return nil
}

// PageData is the template model shared by every page
type PageData struct {
	AppName       string
	Title         string
	Path          string
	Error         string
	Theme         tokenstore.Theme
	Authenticated bool
	User          *credentials.Profile
	Events        []Event
	Event         *Event
}

func (s *Server) pageData(r *http.Request, title string) PageData {
	state := s.sessions.State()
	data := PageData{
		AppName:       s.config.GetAppName(),
		Title:         title,
		Path:          r.URL.RequestURI(),
		Error:         r.URL.Query().Get("error"),
		Authenticated: state.Authenticated,
		User:          state.User,
	}
	theme, err := s.prefs.Theme(r.Context())
	if err != nil {
		log.Warn().Err(err).Msg("Unable to read theme preference")
	}
	data.Theme = theme
	return data
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, page string, data PageData) {
	tmpl, ok := s.pages[page]
	if !ok {
		logError(r.Method, r.URL.Path, "unknown page "+page)
		http.Error(w, "500 - Internal Server Error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		logError(r.Method, r.URL.Path, err.Error())
		http.Error(w, "500 - Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// PageHandler renders a page that needs nothing from the backend.
func (s *Server) PageHandler(page, title string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.render(w, r, http.StatusOK, page, s.pageData(r, title))
	}
}

// backendContext remembers the page being rendered so an expired session
// returns the user to it after login.
func backendContext(r *http.Request) context.Context {
	return apiclient.WithReturnURL(r.Context(), r.URL.RequestURI())
}

// backendFailed renders err as the page's error. It returns after redirecting
// when the session expired and a login redirect is due.
func (s *Server) backendFailed(w http.ResponseWriter, r *http.Request, err error, page string, data PageData) {
	var expired *apperrors.SessionExpiredError
	if errors.As(err, &expired) {
		if expired.LoginURL != "" {
			redirectSuccess(w, r, expired.LoginURL)
			return
		}
		data.Authenticated, data.User = false, nil
		data.Error = "Your session has expired, please sign in again"
		s.render(w, r, http.StatusUnauthorized, page, data)
		return
	}

	var statusErr *apiclient.StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
		data.Error = "Not found"
		s.render(w, r, http.StatusNotFound, page, data)
		return
	}

	log.Err(err).Str("path", r.URL.Path).Msg("Backend request failed")
	data.Error = "Unable to reach the server right now, please try again shortly"
	s.render(w, r, http.StatusBadGateway, page, data)
}

func (s *Server) EventsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data := s.pageData(r, "Events")
		var events eventList
		if err := s.backend.GetJSON(backendContext(r), backendEvents, &events); err != nil {
			s.backendFailed(w, r, err, "events.html", data)
			return
		}
		data.Events = events
		s.render(w, r, http.StatusOK, "events.html", data)
	}
}

func (s *Server) EventDetailHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data := s.pageData(r, "Event")
		event, err := s.fetchEvent(r, r.PathValue("slug"))
		if err != nil {
			s.backendFailed(w, r, err, "event.html", data)
			return
		}
		data.Title = event.Title
		data.Event = event
		s.render(w, r, http.StatusOK, "event.html", data)
	}
}

func (s *Server) fetchEvent(r *http.Request, slug string) (*Event, error) {
	var event Event
	path := fmt.Sprintf("%s%s/", backendEvents, url.PathEscape(slug))
	if err := s.backend.GetJSON(backendContext(r), path, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// DashboardHandler shows the signed in user and the events they created.
func (s *Server) DashboardHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data := s.pageData(r, "Dashboard")
		var events eventList
		if err := s.backend.GetJSON(backendContext(r), backendMyEvents, &events); err != nil {
			s.backendFailed(w, r, err, "dashboard.html", data)
			return
		}
		data.Events = events
		s.render(w, r, http.StatusOK, "dashboard.html", data)
	}
}

func (s *Server) EventCreateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.render(w, r, http.StatusOK, "event_form.html", s.pageData(r, "Create event"))
	}
}

func (s *Server) EventEditHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data := s.pageData(r, "Edit event")
		event, err := s.fetchEvent(r, r.PathValue("slug"))
		if err != nil {
			s.backendFailed(w, r, err, "event_form.html", data)
			return
		}
		data.Event = event
		s.render(w, r, http.StatusOK, "event_form.html", data)
	}
}
