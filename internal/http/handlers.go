// Package http exposes the reservation core over a JSON API. Identity arrives
// as an X-User-ID header; authenticating that identity is the deployment's
// concern, not this service's.
package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/example/fleetshare/internal/access"
	"github.com/example/fleetshare/internal/booking"
	"github.com/example/fleetshare/internal/latefee"
	"github.com/example/fleetshare/internal/persistence"
	"github.com/example/fleetshare/internal/recurrence"
	"github.com/example/fleetshare/internal/trip"
)

const timeLayout = time.RFC3339

const userIDHeader = "X-User-ID"

var errBadRequestBody = errors.New("invalid request body")

func requireUser(r *http.Request) (string, bool) {
	userID := strings.TrimSpace(r.Header.Get(userIDHeader))
	return userID, userID != ""
}

type intervalView struct {
	ID                string  `json:"id"`
	VehicleID         string  `json:"vehicle_id"`
	OwnerID           string  `json:"owner_id"`
	RuleID            *string `json:"rule_id,omitempty"`
	Start             string  `json:"start"`
	End               string  `json:"end"`
	PriorityTier      int     `json:"priority_tier"`
	EmergencyOverride bool    `json:"emergency_override"`
	Status            string  `json:"status"`
	LateMinutes       int     `json:"late_minutes,omitempty"`
}

func newIntervalView(interval persistence.Interval) intervalView {
	return intervalView{
		ID:                interval.ID,
		VehicleID:         interval.VehicleID,
		OwnerID:           interval.OwnerID,
		RuleID:            interval.RuleID,
		Start:             interval.Start.UTC().Format(timeLayout),
		End:               interval.End.UTC().Format(timeLayout),
		PriorityTier:      interval.PriorityTier,
		EmergencyOverride: interval.EmergencyOverride,
		Status:            string(interval.Status),
		LateMinutes:       interval.LateMinutes,
	}
}

type feeView struct {
	ID            string `json:"id"`
	ReservationID string `json:"reservation_id"`
	LateMinutes   int    `json:"late_minutes"`
	AmountMinor   int64  `json:"amount_minor"`
	Currency      string `json:"currency"`
	Status        string `json:"status"`
}

func newFeeView(fee persistence.LateFee) feeView {
	return feeView{
		ID:            fee.ID,
		ReservationID: fee.ReservationID,
		LateMinutes:   fee.LateMinutes,
		AmountMinor:   fee.AmountMinor,
		Currency:      fee.Currency,
		Status:        string(fee.Status),
	}
}

// ReservationHandler serves one-off reservation admission, cancellation, and
// fee inspection.
type ReservationHandler struct {
	guard     *booking.ConflictGuard
	trips     *trip.Service
	fees      *latefee.Service
	responder responder
}

func NewReservationHandler(guard *booking.ConflictGuard, trips *trip.Service, fees *latefee.Service, logger *slog.Logger) *ReservationHandler {
	return &ReservationHandler{guard: guard, trips: trips, fees: fees, responder: newResponder(logger)}
}

type createReservationRequest struct {
	VehicleID         string `json:"vehicle_id"`
	Start             string `json:"start"`
	End               string `json:"end"`
	PriorityTier      int    `json:"priority_tier"`
	EmergencyOverride bool   `json:"emergency_override"`
}

func (h *ReservationHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := requireUser(r)
	if !ok {
		h.responder.writeError(ctx, w, http.StatusUnauthorized, "X-User-ID header is required")
		return
	}

	var req createReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(ctx, w, http.StatusBadRequest, errBadRequestBody.Error())
		return
	}

	start, end, err := parseTimeRange(req.Start, req.End)
	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	result, err := h.guard.TryCommit(ctx, booking.Candidate{
		VehicleID:         req.VehicleID,
		OwnerID:           userID,
		Start:             start,
		End:               end,
		PriorityTier:      req.PriorityTier,
		EmergencyOverride: req.EmergencyOverride,
	})
	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	bumped := make([]intervalView, 0, len(result.Bumped))
	for _, interval := range result.Bumped {
		bumped = append(bumped, newIntervalView(interval))
	}
	h.responder.writeJSON(ctx, w, http.StatusCreated, struct {
		Reservation intervalView   `json:"reservation"`
		Bumped      []intervalView `json:"bumped,omitempty"`
	}{Reservation: newIntervalView(result.Interval), Bumped: bumped})
}

func (h *ReservationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := requireUser(r)
	if !ok {
		h.responder.writeError(ctx, w, http.StatusUnauthorized, "X-User-ID header is required")
		return
	}

	reservationID := chi.URLParam(r, "id")
	if _, err := h.trips.Cancel(ctx, reservationID, userID); err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}
	h.responder.writeJSON(ctx, w, http.StatusNoContent, nil)
}

// ListFees returns the fees attached to the caller's reservation.
func (h *ReservationHandler) ListFees(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := requireUser(r)
	if !ok {
		h.responder.writeError(ctx, w, http.StatusUnauthorized, "X-User-ID header is required")
		return
	}

	reservationID := chi.URLParam(r, "id")
	if _, err := h.trips.Get(ctx, reservationID, userID); err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	fees, err := h.fees.ListForReservation(ctx, reservationID)
	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	views := make([]feeView, 0, len(fees))
	for _, fee := range fees {
		views = append(views, newFeeView(fee))
	}
	h.responder.writeJSON(ctx, w, http.StatusOK, struct {
		Fees []feeView `json:"fees"`
	}{Fees: views})
}

// RecurrenceHandler serves recurrence rule lifecycle and on-demand expansion.
type RecurrenceHandler struct {
	rules     *recurrence.Service
	responder responder
}

func NewRecurrenceHandler(rules *recurrence.Service, logger *slog.Logger) *RecurrenceHandler {
	return &RecurrenceHandler{rules: rules, responder: newResponder(logger)}
}

type createRuleRequest struct {
	VehicleID    string   `json:"vehicle_id"`
	Pattern      string   `json:"pattern"`
	Interval     int      `json:"interval"`
	Weekdays     []string `json:"weekdays"`
	StartMinute  int      `json:"start_minute"`
	EndMinute    int      `json:"end_minute"`
	WindowStart  string   `json:"window_start"`
	WindowEnd    string   `json:"window_end"`
	Timezone     string   `json:"timezone"`
	PriorityTier int      `json:"priority_tier"`
}

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

func (h *RecurrenceHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := requireUser(r)
	if !ok {
		h.responder.writeError(ctx, w, http.StatusUnauthorized, "X-User-ID header is required")
		return
	}

	var req createRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(ctx, w, http.StatusBadRequest, errBadRequestBody.Error())
		return
	}

	vErr := &booking.ValidationError{}

	mask := 0
	for _, name := range req.Weekdays {
		weekday, ok := weekdayNames[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			vErr.Add("weekdays", "unknown weekday: "+name)
			continue
		}
		mask |= recurrence.WeekdayBit(weekday)
	}

	windowStart, err := time.Parse(timeLayout, req.WindowStart)
	if err != nil {
		vErr.Add("window_start", "window start must be an RFC 3339 timestamp")
	}
	var windowEnd *time.Time
	if strings.TrimSpace(req.WindowEnd) != "" {
		parsed, err := time.Parse(timeLayout, req.WindowEnd)
		if err != nil {
			vErr.Add("window_end", "window end must be an RFC 3339 timestamp")
		} else {
			windowEnd = &parsed
		}
	}
	if vErr.HasErrors() {
		h.responder.handleServiceError(ctx, w, vErr)
		return
	}

	rule, err := h.rules.CreateRule(ctx, recurrence.RuleInput{
		VehicleID:    req.VehicleID,
		OwnerID:      userID,
		Pattern:      persistence.RulePattern(req.Pattern),
		Interval:     req.Interval,
		WeekdayMask:  mask,
		StartMinute:  req.StartMinute,
		EndMinute:    req.EndMinute,
		WindowStart:  windowStart,
		WindowEnd:    windowEnd,
		Timezone:     req.Timezone,
		PriorityTier: req.PriorityTier,
	})
	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	h.responder.writeJSON(ctx, w, http.StatusCreated, struct {
		RuleID string `json:"rule_id"`
	}{RuleID: rule.ID})
}

type pauseRuleRequest struct {
	PausedUntil string `json:"paused_until"`
}

func (h *RecurrenceHandler) Pause(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := requireUser(r)
	if !ok {
		h.responder.writeError(ctx, w, http.StatusUnauthorized, "X-User-ID header is required")
		return
	}

	var req pauseRuleRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.responder.writeError(ctx, w, http.StatusBadRequest, errBadRequestBody.Error())
			return
		}
	}

	var pausedUntil *time.Time
	if strings.TrimSpace(req.PausedUntil) != "" {
		parsed, err := time.Parse(timeLayout, req.PausedUntil)
		if err != nil {
			h.responder.writeError(ctx, w, http.StatusBadRequest, "paused_until must be an RFC 3339 timestamp")
			return
		}
		pausedUntil = &parsed
	}

	if err := h.rules.Pause(ctx, chi.URLParam(r, "id"), userID, pausedUntil); err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}
	h.responder.writeJSON(ctx, w, http.StatusNoContent, nil)
}

func (h *RecurrenceHandler) Resume(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := requireUser(r)
	if !ok {
		h.responder.writeError(ctx, w, http.StatusUnauthorized, "X-User-ID header is required")
		return
	}

	if err := h.rules.Resume(ctx, chi.URLParam(r, "id"), userID); err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}
	h.responder.writeJSON(ctx, w, http.StatusNoContent, nil)
}

func (h *RecurrenceHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := requireUser(r)
	if !ok {
		h.responder.writeError(ctx, w, http.StatusUnauthorized, "X-User-ID header is required")
		return
	}

	if err := h.rules.Cancel(ctx, chi.URLParam(r, "id"), userID); err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}
	h.responder.writeJSON(ctx, w, http.StatusNoContent, nil)
}

type expandRuleRequest struct {
	Horizon string `json:"horizon"`
}

func (h *RecurrenceHandler) Expand(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req expandRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(ctx, w, http.StatusBadRequest, errBadRequestBody.Error())
		return
	}
	horizon, err := time.Parse(timeLayout, req.Horizon)
	if err != nil {
		h.responder.writeError(ctx, w, http.StatusBadRequest, "horizon must be an RFC 3339 timestamp")
		return
	}

	result, err := h.rules.Expand(ctx, chi.URLParam(r, "id"), horizon)
	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	committed := make([]intervalView, 0, len(result.Committed))
	for _, interval := range result.Committed {
		committed = append(committed, newIntervalView(interval))
	}
	skipped := make([]skippedView, 0, len(result.Skipped))
	for _, skip := range result.Skipped {
		skipped = append(skipped, skippedView{
			Date:   skip.Date.Format("2006-01-02"),
			Reason: string(skip.Reason),
		})
	}
	h.responder.writeJSON(ctx, w, http.StatusOK, struct {
		Committed    []intervalView `json:"committed"`
		Skipped      []skippedView  `json:"skipped"`
		NewWatermark string         `json:"new_watermark"`
	}{
		Committed:    committed,
		Skipped:      skipped,
		NewWatermark: result.NewWatermark.Format("2006-01-02"),
	})
}

type skippedView struct {
	Date   string `json:"date"`
	Reason string `json:"reason"`
}

// AccessHandler issues vehicle access tokens in raw, PNG, or data-URL form.
type AccessHandler struct {
	tokens    *access.TokenService
	responder responder
}

func NewAccessHandler(tokens *access.TokenService, logger *slog.Logger) *AccessHandler {
	return &AccessHandler{tokens: tokens, responder: newResponder(logger)}
}

func (h *AccessHandler) Issue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	vehicleID := chi.URLParam(r, "id")
	token, err := h.tokens.IssueToken(ctx, vehicleID)
	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	format := access.RenderFormat(r.URL.Query().Get("format"))
	contentType, body, err := access.Render(token, format)
	if err != nil {
		h.responder.writeError(ctx, w, http.StatusBadRequest, "unknown render format")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("X-Token-Expires-At", token.ExpiresAt.UTC().Format(timeLayout))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		h.responder.loggerFor(ctx).ErrorContext(ctx, "failed to write token body", "error", err)
	}
}

func (h *AccessHandler) Rotate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	vehicleID := chi.URLParam(r, "id")
	token, err := h.tokens.RotateToken(ctx, vehicleID)
	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	h.responder.writeJSON(ctx, w, http.StatusOK, struct {
		Blob      string `json:"blob"`
		ExpiresAt string `json:"expires_at"`
	}{Blob: token.Blob, ExpiresAt: token.ExpiresAt.UTC().Format(timeLayout)})
}

// TripHandler serves checkout and check-in, both gated on a valid access token.
type TripHandler struct {
	tokens    *access.TokenService
	trips     *trip.Service
	responder responder
}

func NewTripHandler(tokens *access.TokenService, trips *trip.Service, logger *slog.Logger) *TripHandler {
	return &TripHandler{tokens: tokens, trips: trips, responder: newResponder(logger)}
}

type tripRequest struct {
	Token string `json:"token"`
}

func (h *TripHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := requireUser(r)
	if !ok {
		h.responder.writeError(ctx, w, http.StatusUnauthorized, "X-User-ID header is required")
		return
	}

	var req tripRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(ctx, w, http.StatusBadRequest, errBadRequestBody.Error())
		return
	}

	auth, err := h.tokens.Validate(ctx, req.Token, userID, access.PurposeCheckout)
	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	interval, err := h.trips.Checkout(ctx, auth.ReservationID, userID)
	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}
	h.responder.writeJSON(ctx, w, http.StatusOK, newIntervalView(interval))
}

func (h *TripHandler) Checkin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := requireUser(r)
	if !ok {
		h.responder.writeError(ctx, w, http.StatusUnauthorized, "X-User-ID header is required")
		return
	}

	var req tripRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(ctx, w, http.StatusBadRequest, errBadRequestBody.Error())
		return
	}

	auth, err := h.tokens.Validate(ctx, req.Token, userID, access.PurposeCheckin)
	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	result, err := h.trips.Checkin(ctx, auth.ReservationID, userID)
	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	response := struct {
		Reservation intervalView `json:"reservation"`
		LateMinutes int          `json:"late_minutes"`
		Fee         *feeView     `json:"fee,omitempty"`
	}{Reservation: newIntervalView(result.Interval), LateMinutes: result.LateMinutes}
	if result.Fee != nil {
		view := newFeeView(*result.Fee)
		response.Fee = &view
	}
	h.responder.writeJSON(ctx, w, http.StatusOK, response)
}

// FeeHandler serves fee inspection and waivers.
type FeeHandler struct {
	fees      *latefee.Service
	responder responder
}

func NewFeeHandler(fees *latefee.Service, logger *slog.Logger) *FeeHandler {
	return &FeeHandler{fees: fees, responder: newResponder(logger)}
}

type waiveFeeRequest struct {
	Reason string `json:"reason"`
}

func (h *FeeHandler) Waive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := requireUser(r)
	if !ok {
		h.responder.writeError(ctx, w, http.StatusUnauthorized, "X-User-ID header is required")
		return
	}

	var req waiveFeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(ctx, w, http.StatusBadRequest, errBadRequestBody.Error())
		return
	}

	fee, err := h.fees.Waive(ctx, chi.URLParam(r, "id"), userID, req.Reason)
	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}
	h.responder.writeJSON(ctx, w, http.StatusOK, newFeeView(fee))
}

func parseTimeRange(startValue, endValue string) (time.Time, time.Time, error) {
	vErr := &booking.ValidationError{}

	start, err := time.Parse(timeLayout, startValue)
	if err != nil {
		vErr.Add("start", "start must be an RFC 3339 timestamp")
	}
	end, err := time.Parse(timeLayout, endValue)
	if err != nil {
		vErr.Add("end", "end must be an RFC 3339 timestamp")
	}

	if vErr.HasErrors() {
		return time.Time{}, time.Time{}, vErr
	}
	return start, end, nil
}
