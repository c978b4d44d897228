package handler

import (
	"time"

	"github.com/mmeshcher/pointmarket/internal/model"
)

type credentialsRequest struct {
	Login    string `json:"login" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type cartLineRequest struct {
	ProductID int64 `json:"product_id" validate:"gt=0"`
	Quantity  int64 `json:"quantity" validate:"gt=0"`
}

type placeOrderRequest struct {
	Items []cartLineRequest `json:"items" validate:"required,min=1,dive"`
}

type returnRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type createUserRequest struct {
	Login         string `json:"login" validate:"required,max=64"`
	Password      string `json:"password" validate:"required,min=4"`
	Name          string `json:"name" validate:"max=100"`
	Role          string `json:"role" validate:"member_role"`
	InitialPoints int64  `json:"initial_points" validate:"gte=0"`
}

type adjustPointsRequest struct {
	Amount *int64 `json:"amount" validate:"required"`
}

type createProductRequest struct {
	Title string `json:"title" validate:"required,max=100"`
	Price int64  `json:"price" validate:"gte=0"`
	Stock int64  `json:"stock" validate:"gte=0"`
	Type  string `json:"type" validate:"required,item_type"`
}

type setStatusRequest struct {
	Status string `json:"status" validate:"required,order_status"`
	Force  bool   `json:"force"`
	Reason string `json:"reason" validate:"max=500"`
}

type reportMissionRequest struct {
	MissionID  int64  `json:"mission_id" validate:"gt=0"`
	ProofText  string `json:"proof_text" validate:"max=1000"`
	ProofImage string `json:"proof_image" validate:"max=2048"`
}

type createMissionRequest struct {
	Title        string `json:"title" validate:"required,max=100"`
	Description  string `json:"description" validate:"max=1000"`
	RewardPoints int64  `json:"reward_points" validate:"gt=0"`
}

type setMissionStatusRequest struct {
	Status string `json:"status" validate:"required,mission_status"`
}

type userResponse struct {
	ID             int64  `json:"id"`
	Login          string `json:"login"`
	Name           string `json:"name"`
	Role           string `json:"role"`
	PointBalance   int64  `json:"point_balance"`
	MembershipTier string `json:"membership_tier"`
	CreatedAt      string `json:"created_at"`
}

func newUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:             u.ID,
		Login:          u.Login,
		Name:           u.Name,
		Role:           string(u.Role),
		PointBalance:   u.PointBalance,
		MembershipTier: string(u.MembershipTier),
		CreatedAt:      formatTime(u.CreatedAt),
	}
}

type orderResponse struct {
	ID                 int64             `json:"id"`
	UserID             int64             `json:"user_id"`
	Items              []model.OrderItem `json:"items"`
	ShippingFee        int64             `json:"shipping_fee"`
	TotalPrice         int64             `json:"total_price"`
	Status             string            `json:"status"`
	ReturnReason       string            `json:"return_reason,omitempty"`
	RentedAt           string            `json:"rented_at,omitempty"`
	PenaltyDaysCharged int64             `json:"penalty_days_charged"`
	CreatedAt          string            `json:"created_at"`
	UpdatedAt          string            `json:"updated_at"`
}

func newOrderResponse(o *model.Order) orderResponse {
	resp := orderResponse{
		ID:                 o.ID,
		UserID:             o.UserID,
		Items:              o.Items,
		ShippingFee:        o.ShippingFee,
		TotalPrice:         o.TotalPrice,
		Status:             string(o.Status),
		ReturnReason:       o.ReturnReason,
		PenaltyDaysCharged: o.PenaltyDaysCharged,
		CreatedAt:          formatTime(o.CreatedAt),
		UpdatedAt:          formatTime(o.UpdatedAt),
	}
	if o.RentedAt != nil {
		resp.RentedAt = formatTime(*o.RentedAt)
	}
	return resp
}

func newOrdersResponse(orders []model.Order) []orderResponse {
	resp := make([]orderResponse, 0, len(orders))
	for i := range orders {
		resp = append(resp, newOrderResponse(&orders[i]))
	}
	return resp
}

type receiptResponse struct {
	Order      orderResponse        `json:"order"`
	NewBalance int64                `json:"new_balance"`
	Pricing    model.PriceBreakdown `json:"pricing"`
}

type ledgerEntryResponse struct {
	ID           int64  `json:"id"`
	Amount       int64  `json:"amount"`
	BalanceAfter int64  `json:"balance_after"`
	Reason       string `json:"reason"`
	OrderID      *int64 `json:"order_id,omitempty"`
	CreatedAt    string `json:"created_at"`
}

type profileResponse struct {
	User   userResponse          `json:"user"`
	Orders []orderResponse       `json:"orders"`
	Ledger []ledgerEntryResponse `json:"ledger"`
}

func newProfileResponse(p *model.Profile) profileResponse {
	ledger := make([]ledgerEntryResponse, 0, len(p.Ledger))
	for _, e := range p.Ledger {
		ledger = append(ledger, ledgerEntryResponse{
			ID:           e.ID,
			Amount:       e.Amount,
			BalanceAfter: e.BalanceAfter,
			Reason:       string(e.Reason),
			OrderID:      e.OrderID,
			CreatedAt:    formatTime(e.CreatedAt),
		})
	}
	return profileResponse{
		User:   newUserResponse(&p.User),
		Orders: newOrdersResponse(p.Orders),
		Ledger: ledger,
	}
}

type rentalAlertResponse struct {
	OrderID            int64             `json:"order_id"`
	Status             string            `json:"status"`
	Items              []model.OrderItem `json:"items"`
	Deadline           string            `json:"deadline"`
	HoursLeft          int64             `json:"hours_left,omitempty"`
	OverdueDays        int64             `json:"overdue_days,omitempty"`
	PenaltyDaysCharged int64             `json:"penalty_days_charged,omitempty"`
}

type rentalCheckResponse struct {
	Alerts         []rentalAlertResponse `json:"alerts"`
	PenaltyApplied int64                 `json:"penalty_applied"`
	PointBalance   int64                 `json:"point_balance"`
}

func newRentalCheckResponse(c *model.RentalCheck) rentalCheckResponse {
	alerts := make([]rentalAlertResponse, 0, len(c.Alerts))
	for _, a := range c.Alerts {
		alerts = append(alerts, rentalAlertResponse{
			OrderID:            a.OrderID,
			Status:             string(a.Status),
			Items:              a.Items,
			Deadline:           formatTime(a.Deadline),
			HoursLeft:          a.HoursLeft,
			OverdueDays:        a.OverdueDays,
			PenaltyDaysCharged: a.PenaltyDaysCharged,
		})
	}
	return rentalCheckResponse{
		Alerts:         alerts,
		PenaltyApplied: c.PenaltyApplied,
		PointBalance:   c.PointBalance,
	}
}

type missionResponse struct {
	ID           int64  `json:"id"`
	UserID       int64  `json:"user_id"`
	MissionID    *int64 `json:"mission_id,omitempty"`
	Title        string `json:"title"`
	Description  string `json:"description,omitempty"`
	ProofText    string `json:"proof_text,omitempty"`
	ProofImage   string `json:"proof_image,omitempty"`
	RewardPoints int64  `json:"reward_points"`
	Status       string `json:"status"`
	RewardedAt   string `json:"rewarded_at,omitempty"`
	CreatedAt    string `json:"created_at"`
}

func newMissionResponse(m *model.Mission) missionResponse {
	resp := missionResponse{
		ID:           m.ID,
		UserID:       m.UserID,
		MissionID:    m.TemplateID,
		Title:        m.Title,
		Description:  m.Description,
		ProofText:    m.ProofText,
		ProofImage:   m.ProofImage,
		RewardPoints: m.RewardPoints,
		Status:       string(m.Status),
		CreatedAt:    formatTime(m.CreatedAt),
	}
	if m.RewardedAt != nil {
		resp.RewardedAt = formatTime(*m.RewardedAt)
	}
	return resp
}

func newMissionsResponse(missions []model.Mission) []missionResponse {
	resp := make([]missionResponse, 0, len(missions))
	for i := range missions {
		resp = append(resp, newMissionResponse(&missions[i]))
	}
	return resp
}

type loginResponse struct {
	Token   string               `json:"token"`
	User    userResponse         `json:"user"`
	Rentals *rentalCheckResponse `json:"rentals,omitempty"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
