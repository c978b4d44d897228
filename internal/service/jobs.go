package service

import (
	"context"
	"time"

	"github.com/mmeshcher/pointmarket/internal/scheduler"
)

// Имена периодических задач.
const (
	JobRentalPenalties = "rental-penalties"
	JobMembershipFees  = "membership-fees"
)

// Jobs возвращает периодические задачи движка с заданными расписаниями.
func (s *Service) Jobs(penaltySpec, feeSpec string) []scheduler.Job {
	return []scheduler.Job{
		{
			Name: JobRentalPenalties,
			Spec: penaltySpec,
			Run: func(ctx context.Context, now time.Time) error {
				_, err := s.RunRentalPenaltyScan(ctx, now)
				return err
			},
		},
		{
			Name: JobMembershipFees,
			Spec: feeSpec,
			Run: func(ctx context.Context, now time.Time) error {
				_, err := s.RunMonthlyMembershipFee(ctx, now)
				return err
			},
		},
	}
}
