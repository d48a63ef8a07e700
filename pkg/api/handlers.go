package api

import (
	"errors"
	"net/http"

	"github.com/cuemby/bellhop/pkg/dispatch"
	"github.com/cuemby/bellhop/pkg/session"
	"github.com/cuemby/bellhop/pkg/types"
)

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	key, err := boardKey(r)
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	sess, err := s.manager.Get(key)
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return sess, true
}

func docs(records []*types.Record) []*types.RecordDoc {
	out := make([]*types.RecordDoc, 0, len(records))
	for _, r := range records {
		out = append(out, types.DocFromRecord(r))
	}
	return out
}

func (s *Server) listBoards(w http.ResponseWriter, r *http.Request) {
	boards := s.manager.Boards()
	resp := BoardsResponse{Boards: make([]BoardView, 0, len(boards))}
	for _, b := range boards {
		resp.Boards = append(resp.Boards, BoardView{Tenant: b.TenantID, Kind: string(b.Kind)})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) openBoard(w http.ResponseWriter, r *http.Request) {
	key, err := boardKey(r)
	if err != nil {
		writeError(w, err)
		return
	}
	sess, err := s.manager.Open(r.Context(), key)
	if err != nil {
		writeError(w, err)
		return
	}
	writeAlert(w, sess)
}

func (s *Server) closeBoard(w http.ResponseWriter, r *http.Request) {
	key, err := boardKey(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.manager.Close(key); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) restartBoard(w http.ResponseWriter, r *http.Request) {
	key, err := boardKey(r)
	if err != nil {
		writeError(w, err)
		return
	}
	sess, err := s.manager.Restart(r.Context(), key)
	if err != nil {
		writeError(w, err)
		return
	}
	writeAlert(w, sess)
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.Refresh(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeAlert(w, sess)
}

func writeAlert(w http.ResponseWriter, sess *session.Session) {
	state, active := sess.AlertState()
	if active == nil {
		active = []string{}
	}
	board := sess.Board()
	writeJSON(w, http.StatusOK, AlertResponse{
		Tenant: board.TenantID,
		Kind:   string(board.Kind),
		State:  state,
		Active: active,
	})
}

func (s *Server) getAlert(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeAlert(w, sess)
}

func (s *Server) dismiss(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	sess.Dismiss()
	writeAlert(w, sess)
}

func (s *Server) listRecords(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, RecordsResponse{Records: docs(sess.Records())})
}

func (s *Server) insertRecord(w http.ResponseWriter, r *http.Request) {
	key, err := boardKey(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var doc types.RecordDoc
	if err := decodeBody(r, &doc); err != nil {
		writeError(w, err)
		return
	}

	rec := &types.Record{
		ID:         doc.ID,
		TenantID:   key.TenantID,
		Kind:       key.Kind,
		Status:     types.Status(doc.Status),
		TableID:    doc.TableID,
		Attributes: doc.Attributes,
	}
	created, err := s.manager.InsertRecord(r.Context(), rec)
	if err != nil {
		if !errors.Is(err, types.ErrUnknownStatus) && !errors.Is(err, types.ErrStoreUnavailable) {
			err = badRequest(err)
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, types.DocFromRecord(created))
}

func (s *Server) getRecord(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	rec, err := sess.Record(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.DocFromRecord(rec))
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	sess.HandleRecord(r.PathValue("id"))
	writeAlert(w, sess)
}

func (s *Server) transition(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req TransitionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	target, err := types.ParseStatus(sess.Board().Kind, req.Status)
	if err != nil {
		writeError(w, err)
		return
	}

	tc := types.TransitionContext{Reason: types.RejectReason(req.Reason), Note: req.Note}
	rec, err := sess.TransitionStatus(r.Context(), r.PathValue("id"), target, tc)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.DocFromRecord(rec))
}

func (s *Server) occupy(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	rec, err := sess.Occupy(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.DocFromRecord(rec))
}

func (s *Server) release(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	rec, err := sess.Release(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.DocFromRecord(rec))
}

func (s *Server) assignTable(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req AssignRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	rec, err := sess.AssignTable(r.Context(), r.PathValue("id"), req.TableID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.DocFromRecord(rec))
}

func (s *Server) getAudio(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	device := r.URL.Query().Get("device")
	writeJSON(w, http.StatusOK, AudioResponse{
		Device:    device,
		Activated: sess.AudioActivated(r.Context(), device),
	})
}

func (s *Server) activateAudio(w http.ResponseWriter, r *http.Request) {
	s.setAudio(w, r, true)
}

func (s *Server) deactivateAudio(w http.ResponseWriter, r *http.Request) {
	s.setAudio(w, r, false)
}

func (s *Server) setAudio(w http.ResponseWriter, r *http.Request, on bool) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req AudioRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	var err error
	if on {
		err = sess.ActivateAudio(r.Context(), req.Device)
	} else {
		err = sess.DeactivateAudio(r.Context(), req.Device)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AudioResponse{
		Device:    req.Device,
		Activated: sess.AudioActivated(r.Context(), req.Device),
	})
}

// listLedger lists sent-ledger entries, all tenants unless the path names
// one. With ?gaps=true only pending and failed entries are returned.
func (s *Server) listLedger(w http.ResponseWriter, r *http.Request) {
	ledger := s.manager.Ledger()
	if ledger == nil {
		writeError(w, errors.New("no sent ledger configured"))
		return
	}
	tenant := r.PathValue("tenant")

	var (
		entries []*types.LedgerEntry
		err     error
	)
	if r.URL.Query().Get("gaps") == "true" {
		entries, err = dispatch.Gaps(r.Context(), ledger, tenant)
	} else {
		entries, err = ledger.List(r.Context(), tenant)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []*types.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, LedgerResponse{Entries: entries})
}
