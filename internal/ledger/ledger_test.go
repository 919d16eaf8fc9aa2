package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cbuike/wallet-service/internal/apperrors"
)

func TestParseKind(t *testing.T) {
	for _, value := range []string{"CREDIT", "DEBIT", "TRANSFER_OUT", "TRANSFER_IN"} {
		k, err := ParseKind(value)
		require.NoError(t, err)
		assert.Equal(t, value, k.String())
	}
}

func TestParseKindRejectsUnknownValues(t *testing.T) {
	for _, value := range []string{"", "credit", "REFUND", "TRANSFER"} {
		_, err := ParseKind(value)
		assert.ErrorIs(t, err, apperrors.ErrInvalidTransactionType, value)

		var typeErr *apperrors.InvalidTypeError
		require.ErrorAs(t, err, &typeErr)
		assert.Equal(t, value, typeErr.Value)
	}
}
