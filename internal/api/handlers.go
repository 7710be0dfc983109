package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-device-pro/internal/mac"
	"github.com/lorawan-server/lorawan-device-pro/internal/storage"
)

// ========== Auth handlers ==========

// HandleLogin handles operator login
func (s *RESTServer) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username" validate:"required"`
		Password string `json:"password" validate:"required"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.Username != s.config.API.Username ||
		!s.auth.VerifyPassword(req.Password, s.config.API.PasswordHash) {
		s.respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := s.auth.GenerateToken(req.Username)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"access_token": token,
		"expires_in":   int(s.config.JWT.AccessTokenTTL.Seconds()),
		"token_type":   "Bearer",
	})
}

// HandleHealth handles health checks
func (s *RESTServer) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"name":    s.config.Agent.Name,
		"version": s.config.Agent.Version,
	})
}

// ========== Device handlers ==========

// HandleStatus reports the engine state and session counters
func (s *RESTServer) HandleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	resp := map[string]interface{}{
		"dev_eui":  s.devEUI.String(),
		"region":   s.config.Region.Name,
		"state":    s.device.State().String(),
		"settings": s.device.Settings(),
	}

	if session := s.device.Session(); session != nil {
		resp["session"] = map[string]interface{}{
			"dev_addr":  session.DevAddr().String(),
			"fcnt_up":   session.FCntUp(),
			"fcnt_down": session.FCntDown(),
			"expired":   session.Expired(),
		}
	}
	if lc := s.device.LastLinkCheck(); lc != nil {
		resp["link_check"] = lc
	}
	if dt := s.device.LastDeviceTime(); dt != nil {
		resp["device_time"] = dt
	}

	s.respondJSON(w, http.StatusOK, resp)
}

// HandleJoin runs the over-the-air activation
func (s *RESTServer) HandleJoin(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.device.Join(r.Context()); err != nil {
		s.recordEvent(r, storage.EventTypeError, "error", map[string]interface{}{
			"operation": "join",
			"error":     err.Error(),
		})
		s.respondError(w, http.StatusBadGateway, err.Error())
		return
	}

	s.persistState(r)
	s.recordEvent(r, storage.EventTypeJoin, "info", map[string]interface{}{
		"dev_addr": s.device.Session().DevAddr().String(),
	})

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"dev_addr": s.device.Session().DevAddr().String(),
	})
}

// HandleSend transmits an application payload
func (s *RESTServer) HandleSend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Port      uint8  `json:"port" validate:"min=1,max=223"`
		Payload   []byte `json:"payload"`
		Confirmed bool   `json:"confirmed"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.device.Send(r.Context(), req.Payload, req.Port, req.Confirmed)
	if err != nil {
		s.recordEvent(r, storage.EventTypeError, "error", map[string]interface{}{
			"operation": "send",
			"error":     err.Error(),
		})
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, mac.ErrNotJoined), errors.Is(err, mac.ErrPayloadTooLarge):
			status = http.StatusBadRequest
		case errors.Is(err, mac.ErrSessionExpired):
			status = http.StatusConflict
		}
		s.respondError(w, status, err.Error())
		return
	}

	s.persistState(r)
	s.recordEvent(r, storage.EventTypeUplink, "info", map[string]interface{}{
		"fcnt":      res.FCnt,
		"port":      req.Port,
		"confirmed": req.Confirmed,
		"outcome":   res.Outcome.String(),
	})
	if res.Downlink != nil {
		s.recordEvent(r, storage.EventTypeDownlink, "info", res.Downlink)
	}

	resp := map[string]interface{}{
		"outcome": res.Outcome.String(),
		"fcnt":    res.FCnt,
	}
	if res.Downlink != nil {
		resp["downlink"] = res.Downlink
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// HandleListEvents lists the persisted event log, newest first
func (s *RESTServer) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit == 0 {
		limit = 20
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	events, total, err := s.store.ListEvents(r.Context(), s.devEUI, limit, offset)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"total":  total,
	})
}

// HandleRequestLinkCheck queues a LinkCheckReq on the next uplink
func (s *RESTServer) HandleRequestLinkCheck(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.device.RequestLinkCheck(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respondJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// HandleRequestDeviceTime queues a DeviceTimeReq on the next uplink
func (s *RESTServer) HandleRequestDeviceTime(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.device.RequestDeviceTime(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respondJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// ========== Helpers ==========

// persistState saves the engine state after an exchange. Counter advances
// must reach the store before the next uplink could reuse them.
func (s *RESTServer) persistState(r *http.Request) {
	if err := s.store.SaveDeviceState(r.Context(), s.devEUI, s.device.PersistentState()); err != nil {
		log.Error().Err(err).Msg("persisting device state failed")
	}
}

func (s *RESTServer) recordEvent(r *http.Request, eventType, level string, details interface{}) {
	blob, err := json.Marshal(details)
	if err != nil {
		log.Error().Err(err).Str("type", eventType).Msg("marshaling event details failed")
		return
	}
	event := &storage.Event{
		DevEUI:  s.devEUI,
		Type:    eventType,
		Level:   level,
		Details: blob,
	}
	if err := s.store.CreateEvent(r.Context(), event); err != nil {
		log.Error().Err(err).Str("type", eventType).Msg("recording event failed")
	}
}

// respondJSON responds with JSON
func (s *RESTServer) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("encoding response failed")
	}
}

// respondError responds with error
func (s *RESTServer) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{
		"error": message,
	})
}
