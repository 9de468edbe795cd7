package domain

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestListing(t *testing.T, qty int64) Listing {
	l, err := NewListing("L1", "seller", qty, decimal.NewFromInt(50), time.Now())
	require.NoError(t, err)
	return l
}

func TestNewListingValidation(t *testing.T) {
	now := time.Now()
	_, err := NewListing("", "seller", 1, decimal.NewFromInt(1), now)
	assert.ErrorIs(t, err, ErrInvalidListingID)
	_, err = NewListing("L1", "", 1, decimal.NewFromInt(1), now)
	assert.ErrorIs(t, err, ErrInvalidPartyID)
	_, err = NewListing("L1", "seller", 0, decimal.NewFromInt(1), now)
	assert.ErrorIs(t, err, ErrQuantityMustBePositive)
	_, err = NewListing("L1", "seller", 1, decimal.Zero, now)
	assert.ErrorIs(t, err, ErrPriceMustBePositive)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestListingReserveToSoldOut(t *testing.T) {
	l := newTestListing(t, 10)
	require.NoError(t, l.Reserve(4, time.Now()))
	assert.Equal(t, int64(6), l.QuantityAvailable)
	assert.Equal(t, ListingStatusForSale, l.Status)

	err := l.Reserve(7, time.Now())
	assert.ErrorIs(t, err, ErrInsufficientListingQuantity)
	assert.ErrorIs(t, err, ErrPreconditionFailed)
	assert.Equal(t, int64(6), l.QuantityAvailable)

	require.NoError(t, l.Reserve(6, time.Now()))
	assert.Equal(t, int64(0), l.QuantityAvailable)
	assert.Equal(t, ListingStatusSoldOut, l.Status)

	assert.ErrorIs(t, l.Reserve(1, time.Now()), ErrListingNotForSale)
	assert.ErrorIs(t, l.Cancel(time.Now()), ErrListingNotForSale)
}

func TestListingReleaseUndoesReserve(t *testing.T) {
	l := newTestListing(t, 3)
	require.NoError(t, l.Reserve(3, time.Now()))
	require.NoError(t, l.Release(3, time.Now()))
	assert.Equal(t, int64(3), l.QuantityAvailable)
	assert.Equal(t, ListingStatusForSale, l.Status)
}

func TestListingReleaseRejectsOverflow(t *testing.T) {
	l := newTestListing(t, math.MaxInt64)
	err := l.Release(1, time.Now())
	assert.ErrorIs(t, err, ErrQuantityOverflow)
	assert.Equal(t, int64(math.MaxInt64), l.QuantityAvailable)
}

func TestListingCancel(t *testing.T) {
	l := newTestListing(t, 3)
	require.NoError(t, l.Cancel(time.Now()))
	assert.Equal(t, ListingStatusCancelled, l.Status)
	assert.ErrorIs(t, l.Reserve(1, time.Now()), ErrListingNotForSale)
	assert.ErrorIs(t, l.Release(1, time.Now()), ErrListingNotForSale)
	assert.ErrorIs(t, l.Cancel(time.Now()), ErrListingNotForSale)
}

func TestParseListingStatus(t *testing.T) {
	s, err := ParseListingStatus(" for_sale ")
	require.NoError(t, err)
	assert.Equal(t, ListingStatusForSale, s)
	s, err = ParseListingStatus("")
	require.NoError(t, err)
	assert.Empty(t, s)
	_, err = ParseListingStatus("gone")
	assert.ErrorIs(t, err, ErrValidation)
}
