package validation

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Aidin1998/orderflow/pkg/errors"
	"github.com/Aidin1998/orderflow/pkg/models"
)

func validRequest() *models.CreateOrderRequest {
	return &models.CreateOrderRequest{
		Kind:     models.OrderKindMarket,
		TokenIn:  "sol",
		TokenOut: "USDC",
		AmountIn: decimal.NewFromFloat(1.5),
		UserID:   "user-1",
	}
}

func TestValidateOrderRequestAcceptsAndNormalizes(t *testing.T) {
	v := NewValidator(zap.NewNop())
	req := validRequest()
	require.NoError(t, v.ValidateOrderRequest(req))
	assert.Equal(t, "SOL", req.TokenIn)
}

func TestValidateOrderRequestRejections(t *testing.T) {
	v := NewValidator(zap.NewNop())
	over := decimal.NewFromFloat(1.5)
	neg := decimal.NewFromFloat(-0.1)

	cases := map[string]struct {
		mutate func(r *models.CreateOrderRequest)
		field  string
	}{
		"zero amount":        {func(r *models.CreateOrderRequest) { r.AmountIn = decimal.Zero }, "amount_in"},
		"negative amount":    {func(r *models.CreateOrderRequest) { r.AmountIn = decimal.NewFromInt(-3) }, "amount_in"},
		"unknown kind":       {func(r *models.CreateOrderRequest) { r.Kind = "stop" }, "kind"},
		"slippage above one": {func(r *models.CreateOrderRequest) { r.SlippageTolerance = &over }, "slippage_tolerance"},
		"negative slippage":  {func(r *models.CreateOrderRequest) { r.SlippageTolerance = &neg }, "slippage_tolerance"},
		"missing user":       {func(r *models.CreateOrderRequest) { r.UserID = "" }, "user_id"},
		"missing token":      {func(r *models.CreateOrderRequest) { r.TokenOut = "" }, "token_out"},
		"same tokens":        {func(r *models.CreateOrderRequest) { r.TokenOut = "SOL" }, "token_out"},
		"markup token":       {func(r *models.CreateOrderRequest) { r.TokenIn = "<b>x-y</b>" }, "token_in"},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := validRequest()
			tc.mutate(req)
			err := v.ValidateOrderRequest(req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.Validation))

			var e *errors.Error
			require.True(t, errors.As(err, &e))
			require.NotEmpty(t, e.Fields)
			assert.Equal(t, tc.field, e.Fields[0].Field)
		})
	}
}

func TestOrderKindSuggestion(t *testing.T) {
	v := NewValidator(zap.NewNop())
	req := validRequest()
	req.Kind = "limt"
	err := v.ValidateOrderRequest(req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `did you mean "limit"`)
}

func TestSanitizeInputStripsMarkup(t *testing.T) {
	v := NewValidator(zap.NewNop())
	assert.Equal(t, "alice", v.SanitizeInput("<script>x</script>alice"))
}
