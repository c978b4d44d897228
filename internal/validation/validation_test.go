package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cartLine struct {
	ProductID int64 `validate:"gt=0"`
	Quantity  int64 `validate:"gt=0"`
}

type orderRequest struct {
	Items []cartLine `validate:"required,dive"`
}

type statusRequest struct {
	Status string `validate:"required,order_status"`
}

type missionStatusRequest struct {
	Status string `validate:"required,mission_status"`
}

type productRequest struct {
	Title string `validate:"required,max=100"`
	Price int64  `validate:"gte=0"`
	Type  string `validate:"required,item_type"`
}

type memberRequest struct {
	Login string `validate:"required"`
	Role  string `validate:"member_role"`
}

func TestValidator_Struct(t *testing.T) {
	v := New()

	tests := []struct {
		name    string
		in      any
		wantErr string
	}{
		{name: "valid order", in: orderRequest{Items: []cartLine{{ProductID: 1, Quantity: 2}}}},
		{name: "empty order", in: orderRequest{}, wantErr: "field Items is a required field"},
		{name: "zero quantity", in: orderRequest{Items: []cartLine{{ProductID: 1}}}, wantErr: "field Quantity must be at least greater than 0"},
		{name: "known status", in: statusRequest{Status: "approved"}},
		{name: "unknown status", in: statusRequest{Status: "lost"}, wantErr: "field Status is not a known order status"},
		{name: "mission approved", in: missionStatusRequest{Status: "approved"}},
		{name: "mission template is not reviewable", in: missionStatusRequest{Status: "template"}, wantErr: "field Status must be pending, approved or rejected"},
		{name: "valid product", in: productRequest{Title: "Bike", Price: 30, Type: "rent"}},
		{name: "bad item type", in: productRequest{Title: "Bike", Type: "lease"}, wantErr: "field Type must be buy or rent"},
		{name: "negative price", in: productRequest{Title: "Bike", Price: -1, Type: "buy"}, wantErr: "field Price must be at least 0"},
		{name: "default role", in: memberRequest{Login: "kid"}},
		{name: "unknown role", in: memberRequest{Login: "kid", Role: "owner"}, wantErr: "field Role must be admin or user"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Struct(tt.in)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidator_MultipleViolations(t *testing.T) {
	err := New().Struct(productRequest{})
	require.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "field Title is a required field")
	assert.Contains(t, err.Error(), "field Type is a required field")
}
