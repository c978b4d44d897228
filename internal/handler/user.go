package handler

import (
	"net/http"

	"github.com/go-chi/render"
	"go.uber.org/zap"

	"github.com/mmeshcher/pointmarket/internal/model"
)

// Login выполняет аутентификацию пользователя, устанавливает cookie и проверяет его аренду.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !h.decodeOrFail(w, r, &req, false) {
		return
	}

	user, err := h.service.Authenticate(r.Context(), req.Login, req.Password)
	if err != nil {
		h.writeError(w, r, err, "login user error", zap.String("login", req.Login))
		return
	}

	token, err := h.authMiddleware.SetAuthCookie(w, model.Actor{UserID: user.ID, Role: user.Role})
	if err != nil {
		h.writeError(w, r, err, "issue token error", zap.Int64("userID", user.ID))
		return
	}

	resp := loginResponse{Token: token, User: newUserResponse(user)}

	// Ошибка проверки аренды не отменяет вход.
	check, err := h.service.CheckRentals(r.Context(), user.ID, h.now())
	if err != nil {
		h.logger.Warn("rental check on login", zap.Int64("userID", user.ID), zap.Error(err))
	} else {
		rentals := newRentalCheckResponse(check)
		resp.Rentals = &rentals
		resp.User.PointBalance = check.PointBalance
	}

	render.JSON(w, r, resp)
}

// Me возвращает профиль текущего пользователя: данные, заказы и журнал баланса.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentActor(w, r)
	if !ok {
		return
	}

	profile, err := h.service.GetProfile(r.Context(), actor.UserID)
	if err != nil {
		h.writeError(w, r, err, "get profile error", zap.Int64("userID", actor.UserID))
		return
	}

	render.JSON(w, r, newProfileResponse(profile))
}

// PlaceOrder оформляет заказ из корзины текущего пользователя.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentActor(w, r)
	if !ok {
		return
	}

	var req placeOrderRequest
	if !h.decodeOrFail(w, r, &req, false) {
		return
	}

	cart := make([]model.CartLine, 0, len(req.Items))
	for _, it := range req.Items {
		cart = append(cart, model.CartLine{ProductID: it.ProductID, Quantity: it.Quantity})
	}

	receipt, err := h.service.PlaceOrder(r.Context(), actor.UserID, cart)
	if err != nil {
		h.writeError(w, r, err, "place order error", zap.Int64("userID", actor.UserID))
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, receiptResponse{
		Order:      newOrderResponse(&receipt.Order),
		NewBalance: receipt.NewBalance,
		Pricing:    receipt.Pricing,
	})
}

// GetOrders возвращает список заказов текущего пользователя.
func (h *Handler) GetOrders(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentActor(w, r)
	if !ok {
		return
	}

	orders, err := h.service.GetOrdersByUser(r.Context(), actor.UserID)
	if err != nil {
		h.writeError(w, r, err, "get orders error", zap.Int64("userID", actor.UserID))
		return
	}

	if len(orders) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	render.JSON(w, r, newOrdersResponse(orders))
}

// RequestReturn переводит исполненный заказ текущего пользователя в return_requested.
func (h *Handler) RequestReturn(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentActor(w, r)
	if !ok {
		return
	}

	orderID, ok := idParam(r)
	if !ok {
		badRequest(w, r, "invalid order id")
		return
	}

	var req returnRequest
	if !h.decodeOrFail(w, r, &req, true) {
		return
	}

	order, err := h.service.RequestReturn(r.Context(), actor, orderID, req.Reason)
	if err != nil {
		h.writeError(w, r, err, "request return error", zap.Int64("userID", actor.UserID), zap.Int64("orderID", orderID))
		return
	}

	render.JSON(w, r, newOrderResponse(order))
}

// Rentals синхронно начисляет штрафы по аренде текущего пользователя и возвращает уведомления.
func (h *Handler) Rentals(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentActor(w, r)
	if !ok {
		return
	}

	check, err := h.service.CheckRentals(r.Context(), actor.UserID, h.now())
	if err != nil {
		h.writeError(w, r, err, "check rentals error", zap.Int64("userID", actor.UserID))
		return
	}

	render.JSON(w, r, newRentalCheckResponse(check))
}

// UpgradeMembership повышает уровень членства текущего пользователя за баллы.
func (h *Handler) UpgradeMembership(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentActor(w, r)
	if !ok {
		return
	}

	user, err := h.service.UpgradeMembership(r.Context(), actor.UserID)
	if err != nil {
		h.writeError(w, r, err, "upgrade membership error", zap.Int64("userID", actor.UserID))
		return
	}

	render.JSON(w, r, newUserResponse(user))
}
