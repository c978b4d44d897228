package handler

import (
	"net/http"

	"github.com/go-chi/render"
	"go.uber.org/zap"

	"github.com/mmeshcher/pointmarket/internal/model"
)

// ListMissionTemplates возвращает опубликованные миссии. Доступен без авторизации.
func (h *Handler) ListMissionTemplates(w http.ResponseWriter, r *http.Request) {
	missions, err := h.service.ListMissionTemplates(r.Context())
	if err != nil {
		h.writeError(w, r, err, "list mission templates error")
		return
	}

	if len(missions) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	render.JSON(w, r, newMissionsResponse(missions))
}

// ReportMission принимает отчёт участника о выполнении миссии.
func (h *Handler) ReportMission(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentActor(w, r)
	if !ok {
		return
	}

	var req reportMissionRequest
	if !h.decodeOrFail(w, r, &req, false) {
		return
	}

	mission, err := h.service.ReportMission(r.Context(), actor.UserID, model.MissionReport{
		TemplateID: req.MissionID,
		ProofText:  req.ProofText,
		ProofImage: req.ProofImage,
	})
	if err != nil {
		h.writeError(w, r, err, "report mission error",
			zap.Int64("userID", actor.UserID),
			zap.Int64("missionID", req.MissionID),
		)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, newMissionResponse(mission))
}

// CreateMission публикует новую миссию.
func (h *Handler) CreateMission(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentActor(w, r)
	if !ok {
		return
	}

	var req createMissionRequest
	if !h.decodeOrFail(w, r, &req, false) {
		return
	}

	mission, err := h.service.CreateMission(r.Context(), actor.UserID, req.Title, req.Description, req.RewardPoints)
	if err != nil {
		h.writeError(w, r, err, "create mission error", zap.String("title", req.Title))
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, newMissionResponse(mission))
}

// ListMissions возвращает отчёты участников.
func (h *Handler) ListMissions(w http.ResponseWriter, r *http.Request) {
	missions, err := h.service.ListMissions(r.Context())
	if err != nil {
		h.writeError(w, r, err, "list missions error")
		return
	}

	if len(missions) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	render.JSON(w, r, newMissionsResponse(missions))
}

// SetMissionStatus одобряет или отклоняет отчёт участника.
func (h *Handler) SetMissionStatus(w http.ResponseWriter, r *http.Request) {
	missionID, ok := idParam(r)
	if !ok {
		badRequest(w, r, "invalid mission id")
		return
	}

	var req setMissionStatusRequest
	if !h.decodeOrFail(w, r, &req, false) {
		return
	}

	mission, err := h.service.SetMissionStatus(r.Context(), missionID, model.MissionStatus(req.Status))
	if err != nil {
		h.writeError(w, r, err, "set mission status error",
			zap.Int64("missionID", missionID),
			zap.String("status", req.Status),
		)
		return
	}

	render.JSON(w, r, newMissionResponse(mission))
}

// DeleteMission удаляет миссию или отчёт.
func (h *Handler) DeleteMission(w http.ResponseWriter, r *http.Request) {
	missionID, ok := idParam(r)
	if !ok {
		badRequest(w, r, "invalid mission id")
		return
	}

	if err := h.service.DeleteMission(r.Context(), missionID); err != nil {
		h.writeError(w, r, err, "delete mission error", zap.Int64("missionID", missionID))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
