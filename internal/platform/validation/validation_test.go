package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lims/lims/internal/platform/apperr"
)

type item struct {
	Qty int `json:"qty" validate:"gt=0"`
}

type order struct {
	Name  string  `json:"name" validate:"required"`
	Items []item  `json:"items" validate:"min=1,dive"`
	Rate  float64 `json:"rate" validate:"gte=0,lt=1"`
}

func TestStruct_Valid(t *testing.T) {
	err := Struct(order{Name: "a", Items: []item{{Qty: 1}}, Rate: 0.07})
	assert.NoError(t, err)
}

func TestStruct_Messages(t *testing.T) {
	tests := []struct {
		name string
		in   order
		want string
	}{
		{"required", order{Items: []item{{Qty: 1}}}, "name is required"},
		{"min slice", order{Name: "a"}, "items must contain at least 1 item(s)"},
		{"nested", order{Name: "a", Items: []item{{Qty: 0}}}, "items[0].qty must be greater than 0"},
		{"lt", order{Name: "a", Items: []item{{Qty: 1}}, Rate: 1}, "rate must be less than 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Struct(tt.in)
			require.Error(t, err)
			assert.True(t, apperr.Is(err, apperr.KindValidation))
			assert.Equal(t, tt.want, apperr.PublicMessage(err))
		})
	}
}

func TestFields(t *testing.T) {
	err := Struct(order{Items: []item{{Qty: 0}}, Rate: 2})
	require.Error(t, err)
	assert.Equal(t, map[string]string{
		"name":         "name is required",
		"items[0].qty": "items[0].qty must be greater than 0",
		"rate":         "rate must be less than 1",
	}, Fields(err))

	assert.Empty(t, Fields(apperr.Validation("sub_total must not be negative")))
	assert.Empty(t, Fields(nil))
}
