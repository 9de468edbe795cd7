package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCategories(t *testing.T) {
	wrapped := fmt.Errorf("listing L1: %w", ErrInsufficientListingQuantity)
	assert.True(t, errors.Is(wrapped, ErrPreconditionFailed))
	assert.True(t, errors.Is(wrapped, ErrInsufficientListingQuantity))
	assert.False(t, errors.Is(wrapped, ErrValidation))
	assert.True(t, errors.Is(ErrWALWriteFailed, ErrStoreUnavailable))
	assert.True(t, errors.Is(ErrPartyNotFound, ErrNotFound))
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, "not enough credits available", UserMessage(ErrInsufficientListingQuantity))
	assert.Equal(t, "not enough credits available", UserMessage(ErrInsufficientSellerBalance))
	assert.Equal(t, "insufficient balance to retire", UserMessage(ErrInsufficientBalance))
	assert.Equal(t, "please try again", UserMessage(ErrConcurrencyConflict))
	assert.Equal(t, "please try again", UserMessage(fmt.Errorf("db down: %w", ErrStoreUnavailable)))
	assert.Equal(t, "please try again", UserMessage(errors.New("boom")))
	assert.Equal(t, "this listing is no longer available", UserMessage(ErrListingNotForSale))
	assert.Equal(t, ErrListingNotFound.Error(), UserMessage(ErrListingNotFound))
	assert.Empty(t, UserMessage(nil))
}
