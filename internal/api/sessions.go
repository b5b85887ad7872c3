package api

import (
	"net/http"

	"tradelab/internal/domain"
	"tradelab/internal/engine"
	"tradelab/internal/strategy"
)

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*engine.Session, bool) {
	sess, err := s.deps.Sessions.Get(r.PathValue("key"))
	if err != nil {
		s.writeErr(w, err)
		return nil, false
	}
	return sess, true
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req StartSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sess, err := s.deps.Sessions.Start(r.Context(), req.Key, req.SessionOptions)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess.Info())
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Sessions.List())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Info())
}

func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Sessions.Stop(r.PathValue("key")); err != nil {
		s.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSizeSignal(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req SizeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sig := req.Signal
	if req.Prediction != nil {
		p, err := req.Prediction.Prediction()
		if err != nil {
			s.writeErr(w, err)
			return
		}
		sig.Strength = strategy.SignalStrength(p)
	}

	rec, err := sess.Engine.SizeSignal(r.Context(), sig)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleCheckLimits(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req LimitsRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}
	check, err := sess.Engine.CheckLimits(r.Context(), req.DailyPnL)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, check)
}

func (s *Server) handleSetLimits(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var limits domain.RiskLimits
	if !decodeJSON(w, r, &limits) {
		return
	}
	sess.Engine.Risk().SetLimits(limits)
	writeJSON(w, http.StatusOK, sess.Info())
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	metrics, err := sess.Engine.Refresh(r.Context())
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

func (s *Server) handleRecordTrade(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var t domain.LedgerTrade
	if !decodeJSON(w, r, &t) {
		return
	}
	if t.Symbol == "" || !t.Side.Valid() {
		writeError(w, http.StatusBadRequest, "symbol and a valid side are required")
		return
	}
	recorded, err := sess.Engine.RecordTrade(r.Context(), t)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, recorded)
}
