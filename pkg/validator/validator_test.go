package validator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type batchQuery struct {
	IDs      []string `json:"ids" validate:"required,min=1,dive,required"`
	Currency string   `json:"currency" validate:"omitempty,alpha"`
}

func TestValidateStructOK(t *testing.T) {
	err := ValidateStruct(batchQuery{IDs: []string{"bitcoin", "ethereum"}, Currency: "usd"})
	require.NoError(t, err)
}

func TestValidateStructFailures(t *testing.T) {
	err := ValidateStruct(batchQuery{})
	require.Error(t, err)

	failures, ok := err.(ValidationErrors)
	require.True(t, ok)
	require.Len(t, failures, 1)
	require.Equal(t, "ids", failures[0].Field)
	require.Equal(t, "required", failures[0].Tag)

	err = ValidateStruct(batchQuery{IDs: []string{"bitcoin"}, Currency: "u$d"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "currency failed on alpha")
}
