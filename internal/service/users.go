package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/mmeshcher/pointmarket/internal/model"
	"github.com/mmeshcher/pointmarket/internal/repository"
)

// CreateMember регистрирует участника. Регистрацию выполняет администратор,
// начальные баллы проводятся через журнал как корректировка.
func (s *Service) CreateMember(ctx context.Context, m model.NewMember) (*model.User, error) {
	if m.Login == "" || m.Password == "" {
		return nil, fmt.Errorf("%w: login and password are required", model.ErrInvalidInput)
	}
	if m.Role == "" {
		m.Role = model.RoleUser
	}
	if !m.Role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", model.ErrInvalidInput, m.Role)
	}
	if m.InitialPoints < 0 {
		return nil, fmt.Errorf("%w: initial points must not be negative", model.ErrInvalidInput)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(m.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &model.User{
		Login:          m.Login,
		Name:           m.Name,
		PasswordHash:   string(hash),
		Role:           m.Role,
		MembershipTier: model.TierNormal,
	}

	err = s.repo.WithTx(ctx, func(tx repository.Tx) error {
		id, err := tx.CreateUser(ctx, user)
		if err != nil {
			return err
		}
		user.ID = id

		if m.InitialPoints > 0 {
			balance, err := tx.ApplyBalance(ctx, id, m.InitialPoints, false, model.LedgerAdjustment, nil)
			if err != nil {
				return err
			}
			user.PointBalance = balance
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("member created", zap.Int64("user_id", user.ID), zap.String("login", user.Login), zap.String("role", string(user.Role)))
	return user, nil
}

// EnsureAdmin создаёт администратора, если пользователя с таким логином ещё нет.
// Повторный вызов ничего не меняет.
func (s *Service) EnsureAdmin(ctx context.Context, login, password, name string) (bool, error) {
	existing, err := s.repo.GetUserByLogin(ctx, login)
	if err == nil {
		if existing.Role != model.RoleAdmin {
			s.logger.Warn("bootstrap login is taken by a non-admin user", zap.String("login", login))
		}
		return false, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return false, err
	}

	_, err = s.CreateMember(ctx, model.NewMember{
		Login:    login,
		Password: password,
		Name:     name,
		Role:     model.RoleAdmin,
	})
	if errors.Is(err, model.ErrUserExists) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Authenticate проверяет логин и пароль и возвращает пользователя.
func (s *Service) Authenticate(ctx context.Context, login, password string) (*model.User, error) {
	u, err := s.repo.GetUserByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, model.ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, model.ErrInvalidCredentials
	}
	return u, nil
}

// AdjustPoints изменяет баланс пользователя на amount. Баланс не опускается ниже нуля.
func (s *Service) AdjustPoints(ctx context.Context, userID, amount int64) (int64, error) {
	var balance, applied int64
	err := s.repo.WithTx(ctx, func(tx repository.Tx) error {
		user, err := tx.UserForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		balance, err = tx.ApplyBalance(ctx, userID, amount, true, model.LedgerAdjustment, nil)
		if err != nil {
			return err
		}
		applied = balance - user.PointBalance
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.metrics.PointsMoved(string(model.LedgerAdjustment), applied)
	s.logger.Info("points adjusted",
		zap.Int64("user_id", userID),
		zap.Int64("requested", amount),
		zap.Int64("applied", applied),
		zap.Int64("balance", balance),
	)
	return balance, nil
}

// GetUser возвращает пользователя.
func (s *Service) GetUser(ctx context.Context, userID int64) (*model.User, error) {
	return s.repo.GetUser(ctx, userID)
}

// GetProfile возвращает пользователя, его заказы и журнал баланса.
func (s *Service) GetProfile(ctx context.Context, userID int64) (*model.Profile, error) {
	u, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	orders, err := s.repo.GetOrdersByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	ledger, err := s.repo.GetLedgerByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &model.Profile{User: *u, Orders: orders, Ledger: ledger}, nil
}
