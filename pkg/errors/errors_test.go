package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindMatching(t *testing.T) {
	err := fmt.Errorf("run order: %w", SlippageExceeded.Explain("realized 0.031 > tolerance 0.01"))

	assert.True(t, Is(err, SlippageExceeded))
	assert.False(t, Is(err, NoLiquidity))
	assert.Equal(t, KindSlippageExceeded, KindOf(err))
	assert.Equal(t, KindInternal, KindOf(fmt.Errorf("plain")))
}

func TestExplainDoesNotMutateSentinel(t *testing.T) {
	_ = OrderNotFound.Explain("order %s not found", "abc")
	_ = OrderNotFound.Wrap(fmt.Errorf("cause"))
	assert.Empty(t, OrderNotFound.Message)
	assert.Nil(t, OrderNotFound.Unwrap())
}

func TestIsRetriable(t *testing.T) {
	assert.True(t, IsRetriable(NoLiquidity.Explain("all venues failed")))
	assert.True(t, IsRetriable(VenueUnavailable))
	assert.True(t, IsRetriable(SlippageExceeded))
	assert.True(t, IsRetriable(SettlementFailed))
	assert.True(t, IsRetriable(fmt.Errorf("db: connection reset")))
	assert.False(t, IsRetriable(InvalidPair.Explain("INVALID_TOKEN/ETH")))
	assert.False(t, IsRetriable(fmt.Errorf("wrapped: %w", OrderNotFound)))
	assert.False(t, IsRetriable(SettlementUnknown.Wrap(fmt.Errorf("db: connection reset"))))
	assert.False(t, IsRetriable(nil))
}

func TestErrorString(t *testing.T) {
	err := InvalidPair.Explain("invalid token pair %s", "INVALID_TOKEN/ETH")
	assert.Equal(t, "[InvalidPair] invalid token pair INVALID_TOKEN/ETH", err.Error())
}

func TestFromError(t *testing.T) {
	p := FromError(Validation.Explain("bad request").WithField("gt", "amount_in", "must be positive"), "/api/v1/orders")
	assert.Equal(t, http.StatusBadRequest, p.Status)
	require.Len(t, p.Errors, 1)
	assert.Equal(t, "amount_in", p.Errors[0].Field)

	raw, err := json.Marshal(p)
	require.NoError(t, err)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, KindValidation, body["kind"])
	assert.Equal(t, TypeValidationError, body["type"])

	assert.Equal(t, http.StatusNotFound, FromError(OrderNotFound, "/x").Status)
	assert.Equal(t, http.StatusInternalServerError, FromError(fmt.Errorf("boom"), "/x").Status)
	assert.Equal(t, http.StatusBadGateway, FromError(SettlementUnknown, "/x").Status)
}
