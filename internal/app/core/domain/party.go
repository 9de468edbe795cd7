package domain

import (
	"strings"
	"unicode"

	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
)

const maxPartyIDLength = 128

// PartyID 參與者 (NGO 或企業) 的識別碼
// 由呼叫端明確傳入，核心不會從任何隱含的上下文推斷身分
type PartyID string

// ParsePartyID 驗證並回傳 PartyID
func ParsePartyID(raw string) (PartyID, error) {
	id := strings.TrimSpace(raw)
	if id == "" || len(id) > maxPartyIDLength {
		return "", ErrInvalidPartyID
	}
	for _, r := range id {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return "", ErrInvalidPartyID
		}
	}
	return PartyID(id), nil
}

// ParseWalletRef 錢包必須是 20 bytes 的 EVM 地址，回傳去掉空白後的原字串
func ParseWalletRef(raw string) (string, error) {
	ref := strings.TrimSpace(raw)
	if ref == "" {
		return "", ErrInvalidWallet
	}
	if _, err := ethtypes.NewAddress(ref); err != nil {
		return "", ErrInvalidWallet
	}
	return ref, nil
}

func (p PartyID) String() string {
	return string(p)
}

// Validate 檢查已經是 PartyID 型別的值 (例如從 JSON 直接解出來的)
func (p PartyID) Validate() error {
	parsed, err := ParsePartyID(string(p))
	if err != nil {
		return err
	}
	if parsed != p {
		return ErrInvalidPartyID
	}
	return nil
}
