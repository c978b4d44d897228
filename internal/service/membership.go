package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/pointmarket/internal/events"
	"github.com/mmeshcher/pointmarket/internal/model"
	"github.com/mmeshcher/pointmarket/internal/repository"
)

// feePeriod возвращает расчётный месяц взноса в формате YYYY-MM.
func (s *Service) feePeriod(now time.Time) string {
	return now.In(s.policy.FeeLocation).Format("2006-01")
}

// RunMonthlyMembershipFee списывает ежемесячный взнос со всех участников повышенного уровня.
// Баланс может уйти в минус. За один расчётный месяц взнос списывается не больше одного раза.
func (s *Service) RunMonthlyMembershipFee(ctx context.Context, now time.Time) (model.FeeReport, error) {
	var report model.FeeReport
	period := s.feePeriod(now)

	ids, err := s.repo.ListUserIDsByTier(ctx, model.TierElevated)
	if err != nil {
		return report, err
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		charged, err := s.chargeMembershipFee(ctx, id, period)
		if err != nil {
			report.Failures++
			s.logger.Error("membership fee failed", zap.Int64("user_id", id), zap.String("period", period), zap.Error(err))
			continue
		}
		if !charged {
			report.UsersSkipped++
			continue
		}

		report.UsersCharged++
		s.metrics.PointsMoved(string(model.LedgerMembershipFee), s.policy.MembershipFee)

		e := events.New(events.MembershipFeeCharged, id, s.now())
		e.Amount = s.policy.MembershipFee
		s.publish(ctx, e)
	}

	s.logger.Info("membership fee run finished",
		zap.String("period", period),
		zap.Int("charged", report.UsersCharged),
		zap.Int("skipped", report.UsersSkipped),
		zap.Int("failures", report.Failures),
	)
	return report, nil
}

func (s *Service) chargeMembershipFee(ctx context.Context, userID int64, period string) (bool, error) {
	var charged bool
	err := s.repo.WithTx(ctx, func(tx repository.Tx) error {
		charged = false

		user, err := tx.UserForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if user.MembershipTier != model.TierElevated || user.LastFeePeriod == period {
			return nil
		}

		if _, err := tx.ApplyBalance(ctx, userID, -s.policy.MembershipFee, false, model.LedgerMembershipFee, nil); err != nil {
			return err
		}
		if err := tx.SetFeePeriod(ctx, userID, period); err != nil {
			return err
		}
		charged = true
		return nil
	})
	return charged, err
}

// UpgradeMembership переводит пользователя на повышенный уровень за баллы.
// Текущий месяц считается оплаченным.
func (s *Service) UpgradeMembership(ctx context.Context, userID int64) (*model.User, error) {
	var result *model.User
	err := s.repo.WithTx(ctx, func(tx repository.Tx) error {
		user, err := tx.UserForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if user.MembershipTier == model.TierElevated {
			return model.ErrAlreadyElevated
		}
		if user.PointBalance < s.policy.UpgradeCost {
			return fmt.Errorf("%w: balance %d, upgrade costs %d", model.ErrInsufficientFunds, user.PointBalance, s.policy.UpgradeCost)
		}

		balance, err := tx.ApplyBalance(ctx, userID, -s.policy.UpgradeCost, false, model.LedgerMembershipUpgrade, nil)
		if err != nil {
			return err
		}
		if err := tx.SetMembershipTier(ctx, userID, model.TierElevated); err != nil {
			return err
		}
		period := s.feePeriod(s.now())
		if err := tx.SetFeePeriod(ctx, userID, period); err != nil {
			return err
		}

		user.PointBalance = balance
		user.MembershipTier = model.TierElevated
		user.LastFeePeriod = period
		result = user
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.PointsMoved(string(model.LedgerMembershipUpgrade), s.policy.UpgradeCost)
	s.logger.Info("membership upgraded", zap.Int64("user_id", userID))
	return result, nil
}
