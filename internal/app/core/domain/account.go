package domain

import (
	"math"
	"time"
)

// HolderAccount 參與者的碳權餘額
// 第一次被異動時才建立 (lazy)，不會刪除
type HolderAccount struct {
	PartyID   PartyID   `json:"party_id"`
	Balance   int64     `json:"balance"`
	WalletRef string    `json:"wallet_ref,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewHolderAccount(party PartyID, now time.Time) HolderAccount {
	return HolderAccount{
		PartyID:   party,
		UpdatedAt: now,
	}
}

// Credit 入帳，加總超過 int64 上限時拒絕
func (a *HolderAccount) Credit(quantity int64, now time.Time) error {
	if quantity <= 0 {
		return ErrQuantityMustBePositive
	}
	if !canAdd(a.Balance, quantity) {
		return ErrQuantityOverflow
	}
	a.Balance += quantity
	a.UpdatedAt = now
	return nil
}

// Debit 扣帳，餘額不可為負
func (a *HolderAccount) Debit(quantity int64, now time.Time) error {
	if quantity <= 0 {
		return ErrQuantityMustBePositive
	}
	if a.Balance < quantity {
		return ErrInsufficientBalance
	}
	a.Balance -= quantity
	a.UpdatedAt = now
	return nil
}

// ReconcileTo 直接把餘額設成外部帳本回報的值，回傳差額
func (a *HolderAccount) ReconcileTo(absolute int64, now time.Time) (int64, error) {
	if absolute < 0 {
		return 0, ErrNegativeBalance
	}
	delta := absolute - a.Balance
	a.Balance = absolute
	a.UpdatedAt = now
	return delta, nil
}

// canAdd 兩個非負數相加不會溢位
func canAdd(current, quantity int64) bool {
	return quantity <= math.MaxInt64-current
}
