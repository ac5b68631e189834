package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/rider-api/internal/analytics"
	"github.com/example/rider-api/internal/auth"
	"github.com/example/rider-api/internal/booking"
	"github.com/example/rider-api/internal/chat"
	"github.com/example/rider-api/internal/geocode"
	"github.com/example/rider-api/internal/media"
	"github.com/example/rider-api/internal/models"
	"github.com/example/rider-api/internal/notify"
	"github.com/example/rider-api/internal/observability"
	"github.com/example/rider-api/internal/payments"
	"github.com/example/rider-api/internal/ratings"
	"github.com/example/rider-api/internal/rides"
	"github.com/example/rider-api/internal/store"
	"github.com/example/rider-api/internal/stream"
)

// Server wires the rider-facing HTTP and WebSocket surface over the
// domain services. Every /api/v1 and /ws route requires a bearer token;
// the rider identity always comes from the token, never the payload.
type Server struct {
	Booking  *booking.Service
	Tracker  *rides.Tracker
	Ratings  *ratings.Service
	Notify   *notify.Service
	Payments *payments.Service
	Chat     *chat.Service
	Geo      *geocode.Client
	Media    *media.Uploader
	Store    store.Store
	Hub      *stream.Hub
	Verifier *auth.Verifier

	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(logger *slog.Logger) *Server {
	s := &Server{logger: logger, mux: mux.NewRouter()}
	return s
}

// Mount registers middleware and routes. Call after the service fields
// are populated.
func (s *Server) Mount() {
	s.registerMiddleware()
	s.routes()
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.Use(s.authMiddleware)

	api.HandleFunc("/rides/quote", s.handleQuote).Methods("POST")
	api.HandleFunc("/rides", s.handleBook).Methods("POST")
	api.HandleFunc("/rides/active", s.handleActiveRide).Methods("GET")
	api.HandleFunc("/rides/active", s.handleCancel).Methods("DELETE")
	api.HandleFunc("/rides/history", s.handleHistory).Methods("GET")
	api.HandleFunc("/rides/unrated", s.handleUnrated).Methods("GET")
	api.HandleFunc("/rides/{ride_id}/rating", s.handleRate).Methods("POST")

	api.HandleFunc("/notifications", s.handleNotifications).Methods("GET")
	api.HandleFunc("/notifications/read", s.handleMarkRead).Methods("POST")

	api.HandleFunc("/payments/pending", s.handlePendingPayment).Methods("GET")
	api.HandleFunc("/payments/complete", s.handleCompletePayment).Methods("POST")

	api.HandleFunc("/chats/{chat_id}/messages", s.handleChatHistory).Methods("GET")
	api.HandleFunc("/chats/{chat_id}/messages", s.handleChatSend).Methods("POST")

	api.HandleFunc("/profile", s.handleProfile).Methods("GET")
	api.HandleFunc("/profile", s.handleUpdateProfile).Methods("PUT")
	api.HandleFunc("/profile/photo", s.handleUploadPhoto).Methods("POST")

	api.HandleFunc("/places/suggest", s.handleSuggest).Methods("GET")
	api.HandleFunc("/places/reverse", s.handleReverse).Methods("GET")
	api.HandleFunc("/places/route", s.handleRoutePreview).Methods("GET")

	api.HandleFunc("/analytics/summary", s.handleAnalytics).Methods("GET")

	ws := s.mux.PathPrefix("/ws").Subrouter()
	ws.Use(s.authMiddleware)
	ws.HandleFunc("/rides", s.handleRideWatch)
	ws.HandleFunc("/chats/{chat_id}", s.handleChatWS)
	ws.HandleFunc("/notifications", s.handleNotifyWS)

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type quoteRequest struct {
	Pickup string      `json:"pickup"`
	Drop   string      `json:"drop"`
	Mode   models.Mode `json:"mode"`
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	var in quoteRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	q, err := s.Booking.Quote(r.Context(), in.Pickup, in.Drop, in.Mode)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// handleBook re-quotes server side so the persisted fare always comes
// from a fresh resolution, not a stale client payload.
func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	var in quoteRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	q, err := s.Booking.Quote(r.Context(), in.Pickup, in.Drop, in.Mode)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id := identityFrom(r)
	// signup happens at the auth provider; the rider row appears on
	// first booking
	if _, err := s.Store.Rider(r.Context(), id.RiderID); errors.Is(err, store.ErrNotFound) {
		if err := s.Store.CreateRider(r.Context(), models.Rider{ID: id.RiderID, Name: id.Name}); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	req, err := s.Booking.Book(r.Context(), id.RiderID, q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (s *Server) handleActiveRide(w http.ResponseWriter, r *http.Request) {
	req, err := s.Store.ActiveRequest(r.Context(), identityFrom(r).RiderID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	req, err := s.Booking.Cancel(r.Context(), identityFrom(r).RiderID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// handleHistory lists past rides newest-last; ?mode=auto|cab narrows to
// one vehicle class.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	rider, err := s.Store.Rider(r.Context(), identityFrom(r).RiderID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := rider.PastRides
	if mode := models.Mode(r.URL.Query().Get("mode")); mode.Valid() {
		filtered := make([]models.PastRide, 0, len(out))
		for _, ride := range out {
			if ride.Mode == mode {
				filtered = append(filtered, ride)
			}
		}
		out = filtered
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUnrated(w http.ResponseWriter, r *http.Request) {
	out, err := s.Ratings.Unrated(r.Context(), identityFrom(r).RiderID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Stars int `json:"stars"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rideID := mux.Vars(r)["ride_id"]
	driver, err := s.Ratings.Rate(r.Context(), identityFrom(r).RiderID, rideID, in.Stars)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"driver_id":   driver.ID,
		"rating":      driver.Rating(),
		"rated_rides": driver.RatedRides,
	})
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	out, err := s.Notify.Unread(r.Context(), identityFrom(r).RiderID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	if err := s.Notify.MarkAllRead(r.Context(), identityFrom(r).RiderID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePendingPayment(w http.ResponseWriter, r *http.Request) {
	p, err := s.Payments.Pending(r.Context(), identityFrom(r).RiderID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleCompletePayment(w http.ResponseWriter, r *http.Request) {
	if err := s.Payments.Complete(r.Context(), identityFrom(r).RiderID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.Chat.Messages(r.Context(), mux.Vars(r)["chat_id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleChatSend(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	id := identityFrom(r)
	msg, err := s.Chat.Send(r.Context(), mux.Vars(r)["chat_id"], in.Text, id.Name, id.RiderID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	rider, err := s.Store.Rider(r.Context(), identityFrom(r).RiderID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rider)
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name       string `json:"name"`
		Phone      string `json:"phone"`
		Address    string `json:"address"`
		ProfileURL string `json:"profile_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	id := identityFrom(r)
	if err := s.Store.UpdateRiderProfile(r.Context(), id.RiderID, in.Name, in.Phone, in.Address, in.ProfileURL); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleUploadPhoto streams the multipart file to the media host and
// stores the returned URL on the rider profile.
func (s *Server) handleUploadPhoto(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	url, err := s.Media.Upload(r.Context(), header.Filename, file)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id := identityFrom(r)
	rider, err := s.Store.Rider(r.Context(), id.RiderID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.Store.UpdateRiderProfile(r.Context(), id.RiderID, rider.Name, rider.Phone, rider.Address, url); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"profile_url": url})
}

func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	places, err := s.Geo.Suggest(r.Context(), r.URL.Query().Get("q"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, places)
}

func (s *Server) handleReverse(w http.ResponseWriter, r *http.Request) {
	lat, errLat := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lon, errLon := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
	if errLat != nil || errLon != nil {
		http.Error(w, "lat and lon are required", http.StatusBadRequest)
		return
	}
	addr, err := s.Geo.Reverse(r.Context(), lat, lon)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"address": addr})
}

// handleRoutePreview returns the drive path between two points for the
// map screen. Unlike a quote, it may fall back to a straight line when
// no route is found; nothing is priced or persisted from it.
func (s *Server) handleRoutePreview(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, errFrom := parsePoint(q.Get("from_lat"), q.Get("from_lon"))
	to, errTo := parsePoint(q.Get("to_lat"), q.Get("to_lon"))
	if errFrom != nil || errTo != nil {
		http.Error(w, "from and to coordinates are required", http.StatusBadRequest)
		return
	}
	fallback := false
	route, err := s.Geo.DriveRoute(r.Context(), from, to)
	if err != nil {
		if !errors.Is(err, geocode.ErrRouteUnavailable) {
			s.writeError(w, r, err)
			return
		}
		observability.RouteFallbacks.Inc()
		route = geocode.StraightLine(from, to)
		fallback = true
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"geometry":    route.Geometry,
		"distance_km": route.DistanceKm,
		"fallback":    fallback,
	})
}

func parsePoint(lat, lon string) (geocode.Point, error) {
	la, err := strconv.ParseFloat(lat, 64)
	if err != nil {
		return geocode.Point{}, err
	}
	lo, err := strconv.ParseFloat(lon, 64)
	if err != nil {
		return geocode.Point{}, err
	}
	return geocode.Point{Lat: la, Lon: lo}, nil
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	rider, err := s.Store.Rider(r.Context(), identityFrom(r).RiderID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, analytics.Summarize(rider.PastRides))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps domain sentinels onto HTTP statuses. Unknown errors
// become 500 without leaking internals to the client.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, payments.ErrNothingDue):
		status = http.StatusNotFound
	case errors.Is(err, geocode.ErrRouteUnavailable):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, ratings.ErrInvalidStars), errors.Is(err, ratings.ErrNoDriver),
		errors.Is(err, chat.ErrEmptyMessage):
		status = http.StatusBadRequest
	case errors.Is(err, ratings.ErrAlreadyRated), errors.Is(err, booking.ErrNotCancellable):
		status = http.StatusConflict
	case errors.Is(err, auth.ErrInvalidToken):
		status = http.StatusUnauthorized
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		http.Error(w, "internal error", status)
		return
	}
	http.Error(w, err.Error(), status)
}

func newID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
