package handler

import (
	"net/http"

	"github.com/go-chi/render"
	"go.uber.org/zap"

	"github.com/mmeshcher/pointmarket/internal/model"
	"github.com/mmeshcher/pointmarket/internal/service"
)

// CreateUser регистрирует нового участника. Самостоятельной регистрации нет.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !h.decodeOrFail(w, r, &req, false) {
		return
	}

	user, err := h.service.CreateMember(r.Context(), model.NewMember{
		Login:         req.Login,
		Password:      req.Password,
		Name:          req.Name,
		Role:          model.Role(req.Role),
		InitialPoints: req.InitialPoints,
	})
	if err != nil {
		h.writeError(w, r, err, "create user error", zap.String("login", req.Login))
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, newUserResponse(user))
}

type pointsResponse struct {
	UserID       int64 `json:"user_id"`
	PointBalance int64 `json:"point_balance"`
}

// AdjustPoints начисляет или списывает баллы участнику. Баланс не опускается ниже нуля.
func (h *Handler) AdjustPoints(w http.ResponseWriter, r *http.Request) {
	userID, ok := idParam(r)
	if !ok {
		badRequest(w, r, "invalid user id")
		return
	}

	var req adjustPointsRequest
	if !h.decodeOrFail(w, r, &req, false) {
		return
	}

	balance, err := h.service.AdjustPoints(r.Context(), userID, *req.Amount)
	if err != nil {
		h.writeError(w, r, err, "adjust points error", zap.Int64("userID", userID))
		return
	}

	render.JSON(w, r, pointsResponse{UserID: userID, PointBalance: balance})
}

type productResponse struct {
	ID int64 `json:"id"`
}

// CreateProduct добавляет товар в каталог.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req createProductRequest
	if !h.decodeOrFail(w, r, &req, false) {
		return
	}

	id, err := h.service.CreateProduct(r.Context(), &model.Product{
		Title: req.Title,
		Price: req.Price,
		Stock: req.Stock,
		Type:  model.ItemType(req.Type),
	})
	if err != nil {
		h.writeError(w, r, err, "create product error", zap.String("title", req.Title))
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, productResponse{ID: id})
}

// ListOrders возвращает все заказы.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.ListOrders(r.Context())
	if err != nil {
		h.writeError(w, r, err, "list orders error")
		return
	}

	if len(orders) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	render.JSON(w, r, newOrdersResponse(orders))
}

// SetOrderStatus меняет статус заказа с учётом побочных эффектов перехода.
func (h *Handler) SetOrderStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentActor(w, r)
	if !ok {
		return
	}

	orderID, ok := idParam(r)
	if !ok {
		badRequest(w, r, "invalid order id")
		return
	}

	var req setStatusRequest
	if !h.decodeOrFail(w, r, &req, false) {
		return
	}

	order, err := h.service.SetOrderStatus(r.Context(), model.StatusChange{
		OrderID: orderID,
		Status:  model.OrderStatus(req.Status),
		Actor:   actor,
		Force:   req.Force,
		Reason:  req.Reason,
	})
	if err != nil {
		h.writeError(w, r, err, "set order status error",
			zap.Int64("orderID", orderID),
			zap.String("status", req.Status),
		)
		return
	}

	render.JSON(w, r, newOrderResponse(order))
}

type jobResponse struct {
	Job    string `json:"job"`
	Status string `json:"status"`
}

// RunRentalPenalties запускает начисление штрафов за просрочку аренды вне расписания.
func (h *Handler) RunRentalPenalties(w http.ResponseWriter, r *http.Request) {
	h.runJob(w, r, service.JobRentalPenalties)
}

// RunMembershipFees запускает списание ежемесячного взноса вне расписания.
func (h *Handler) RunMembershipFees(w http.ResponseWriter, r *http.Request) {
	h.runJob(w, r, service.JobMembershipFees)
}

func (h *Handler) runJob(w http.ResponseWriter, r *http.Request, name string) {
	if err := h.jobs.Trigger(r.Context(), name); err != nil {
		h.writeError(w, r, err, "run job error", zap.String("job", name))
		return
	}

	render.JSON(w, r, jobResponse{Job: name, Status: "completed"})
}
