package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mmeshcher/pointmarket/internal/events"
	"github.com/mmeshcher/pointmarket/internal/model"
	"github.com/mmeshcher/pointmarket/internal/repository"
)

// CreateMission публикует миссию, за выполнение которой участник получает rewardPoints.
func (s *Service) CreateMission(ctx context.Context, adminID int64, title, description string, rewardPoints int64) (*model.Mission, error) {
	title = strings.TrimSpace(title)
	if title == "" || rewardPoints <= 0 {
		return nil, fmt.Errorf("%w: mission needs a title and a positive reward", model.ErrInvalidInput)
	}

	m := &model.Mission{
		UserID:       adminID,
		Title:        title,
		Description:  description,
		RewardPoints: rewardPoints,
		Status:       model.MissionTemplate,
	}
	if _, err := s.repo.CreateMission(ctx, m); err != nil {
		return nil, err
	}

	s.logger.Info("mission created", zap.Int64("mission_id", m.ID), zap.Int64("reward", rewardPoints))
	return m, nil
}

// ListMissionTemplates возвращает опубликованные миссии.
func (s *Service) ListMissionTemplates(ctx context.Context) ([]model.Mission, error) {
	return s.repo.ListMissions(ctx, true)
}

// ListMissions возвращает отчёты участников о выполнении миссий.
func (s *Service) ListMissions(ctx context.Context) ([]model.Mission, error) {
	return s.repo.ListMissions(ctx, false)
}

// ReportMission сохраняет отчёт участника о выполнении опубликованной миссии.
// Название и награда берутся из опубликованной миссии.
func (s *Service) ReportMission(ctx context.Context, userID int64, r model.MissionReport) (*model.Mission, error) {
	tmpl, err := s.repo.GetMission(ctx, r.TemplateID)
	if err != nil {
		return nil, err
	}
	if tmpl.Status != model.MissionTemplate {
		return nil, fmt.Errorf("%w: mission %d is not open for reports", model.ErrInvalidInput, r.TemplateID)
	}

	m := &model.Mission{
		UserID:       userID,
		TemplateID:   &tmpl.ID,
		Title:        tmpl.Title,
		Description:  tmpl.Description,
		ProofText:    r.ProofText,
		ProofImage:   r.ProofImage,
		RewardPoints: tmpl.RewardPoints,
		Status:       model.MissionPending,
	}
	if _, err := s.repo.CreateMission(ctx, m); err != nil {
		return nil, err
	}

	s.logger.Info("mission reported",
		zap.Int64("mission_id", m.ID),
		zap.Int64("template_id", tmpl.ID),
		zap.Int64("user_id", userID),
	)
	return m, nil
}

// SetMissionStatus проверяет отчёт участника. Награда начисляется при первом одобрении
// и не начисляется повторно, даже если отчёт отклонили и одобрили снова.
func (s *Service) SetMissionStatus(ctx context.Context, missionID int64, status model.MissionStatus) (*model.Mission, error) {
	if !status.Reviewable() {
		return nil, fmt.Errorf("%w: unknown mission status %q", model.ErrInvalidTransition, status)
	}

	var (
		result   *model.Mission
		from     model.MissionStatus
		credited int64
		changed  bool
	)

	err := s.repo.WithTx(ctx, func(tx repository.Tx) error {
		result, from, credited, changed = nil, "", 0, false

		m, err := tx.MissionForUpdate(ctx, missionID)
		if err != nil {
			return err
		}
		if m.Status == model.MissionTemplate {
			return fmt.Errorf("%w: mission %d is a published mission, not a report", model.ErrInvalidTransition, m.ID)
		}

		from = m.Status
		result = m
		if m.Status == status {
			return nil
		}

		if status == model.MissionApproved && m.RewardedAt == nil {
			if _, err := tx.ApplyBalance(ctx, m.UserID, m.RewardPoints, false, model.LedgerMissionReward, nil); err != nil {
				return err
			}
			now := s.now()
			m.RewardedAt = &now
			credited = m.RewardPoints
		}

		m.Status = status
		changed = true
		return tx.UpdateMission(ctx, m)
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return result, nil
	}

	s.logger.Info("mission status changed",
		zap.Int64("mission_id", result.ID),
		zap.String("from", string(from)),
		zap.String("to", string(result.Status)),
		zap.Int64("credited", credited),
	)

	if credited > 0 {
		s.metrics.PointsMoved(string(model.LedgerMissionReward), credited)

		e := events.New(events.MissionRewarded, result.UserID, s.now())
		e.MissionID = result.ID
		e.OldStatus = string(from)
		e.NewStatus = string(result.Status)
		e.Amount = credited
		s.publish(ctx, e)
	}

	return result, nil
}

// DeleteMission удаляет опубликованную миссию или отчёт. Начисленные баллы не списываются.
func (s *Service) DeleteMission(ctx context.Context, missionID int64) error {
	if err := s.repo.DeleteMission(ctx, missionID); err != nil {
		return err
	}
	s.logger.Info("mission deleted", zap.Int64("mission_id", missionID))
	return nil
}
