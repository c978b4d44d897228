package model

import "errors"

var (
	// ErrNotFound возвращается, если пользователь, товар, заказ или миссия не найдены.
	ErrNotFound = errors.New("not found")
	// ErrInsufficientStock возвращается, если остатка товара не хватает.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInsufficientFunds возвращается, если баланса пользователя не хватает.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInvalidTransition возвращается при недопустимой смене статуса заказа.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrUnauthorized возвращается, если у пользователя нет прав на операцию.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidCart возвращается для пустой корзины или неположительного количества.
	ErrInvalidCart = errors.New("invalid cart")
	// ErrUserExists возвращается при попытке создать пользователя с занятым логином.
	ErrUserExists = errors.New("user already exists")
	// ErrInvalidCredentials возвращается при неверной паре логин/пароль.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAlreadyElevated возвращается, если пользователь уже имеет повышенный уровень.
	ErrAlreadyElevated = errors.New("membership already elevated")
	// ErrInvalidInput возвращается для некорректных параметров административных операций.
	ErrInvalidInput = errors.New("invalid input")
)
