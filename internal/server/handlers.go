package server

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/tournevent/carrierhub/internal/booking"
	"github.com/tournevent/carrierhub/internal/order"
	"github.com/tournevent/carrierhub/pkg/carrier"
)

type errorBody struct {
	Error     string             `json:"error"`
	Retryable bool               `json:"retryable,omitempty"`
	Attempted []carrier.Identity `json:"attempted,omitempty"`
}

type bookingResponse struct {
	OrderID     string             `json:"orderId"`
	Waybill     string             `json:"waybill"`
	Carrier     carrier.Identity   `json:"carrier"`
	State       carrier.OrderState `json:"state"`
	Charged     string             `json:"charged"`
	Currency    string             `json:"currency"`
	TrackingURL string             `json:"trackingUrl,omitempty"`
	LabelURL    string             `json:"labelUrl,omitempty"`
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	q := carrier.Query{
		Waybill: r.URL.Query().Get("waybill"),
		OrderID: r.URL.Query().Get("order_id"),
		Phone:   r.URL.Query().Get("phone"),
	}
	m, err := s.tracker.Track(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("X-Cache", cacheHeader(m.Cached))
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleOrderTracking(w http.ResponseWriter, r *http.Request) {
	o, ok := s.merchantOrder(w, r)
	if !ok {
		return
	}

	q := carrier.Query{OrderID: o.ID}
	id := s.defaultCarrier
	if o.IsBooked() {
		q = carrier.Query{Waybill: o.Waybill}
		id = o.Carrier
	}
	m, err := s.tracker.TrackWith(r.Context(), q, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleRates(w http.ResponseWriter, r *http.Request) {
	o, ok := s.merchantOrder(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.booking.Quote(r.Context(), &o.Shipment))
}

func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	o, ok := s.merchantOrder(w, r)
	if !ok {
		return
	}

	var opt carrier.ServiceOption
	if err := json.NewDecoder(r.Body).Decode(&opt); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body"})
		return
	}

	conf, err := s.booking.Book(r.Context(), o.ID, opt)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, bookingResponse{
		OrderID:     conf.Order.ID,
		Waybill:     conf.Booking.Waybill,
		Carrier:     conf.Booking.Carrier,
		State:       conf.Order.State,
		Charged:     conf.Booking.Charged.String(),
		Currency:    conf.Booking.Currency,
		TrackingURL: conf.Booking.TrackingURL,
		LabelURL:    conf.Booking.LabelURL,
	})
}

// merchantOrder loads the path's order. Orders of other merchants are
// reported as missing.
func (s *Server) merchantOrder(w http.ResponseWriter, r *http.Request) (*order.Order, bool) {
	o, err := s.orders.Get(r.Context(), chi.URLParam(r, "orderID"))
	if err == nil && o.MerchantID != merchantFrom(r.Context()) {
		err = order.ErrNotFound
	}
	if err != nil {
		s.writeError(w, r, err)
		return nil, false
	}
	return o, true
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		ok, count, err := s.limiter.Allow(r.Context(), clientIP(r))
		if err != nil {
			// Fail open: the limiter protects carriers, it must not take tracking down.
			s.logger.Ctx(r.Context()).Warn("Rate limiter unavailable", zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("X-RateLimit-Count", strconv.FormatInt(count, 10))
		if !ok {
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate limit exceeded", Retryable: true})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeError translates the error taxonomy into a status code. Unexpected
// errors are logged and never echoed.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		nf *carrier.NotFoundError
		ce *carrier.CarrierError
	)
	switch {
	case errors.As(err, &nf):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error(), Attempted: nf.Attempted})
	case errors.Is(err, order.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "order not found"})
	case errors.Is(err, carrier.ErrInvalidQuery),
		errors.Is(err, booking.ErrInvalidOption),
		errors.Is(err, carrier.ErrCarrierNotRegistered):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.Is(err, carrier.ErrAlreadyBooked), errors.Is(err, booking.ErrBookingInProgress):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	case errors.Is(err, carrier.ErrTransient):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "carrier temporarily unavailable", Retryable: true})
	case errors.As(err, &ce):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: ce.Message})
	default:
		s.logger.Ctx(r.Context()).Error("Request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func cacheHeader(hit bool) string {
	if hit {
		return "HIT"
	}
	return "MISS"
}
