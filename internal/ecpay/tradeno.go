package ecpay

import (
	"crypto/rand"
	"math/big"
	"time"
)

const (
	tradeNoStamp  = "060102150405"
	tradeNoSuffix = 6
	alnum         = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// TradeNoLen is the length of every generated trade number; the processor allows 20.
const TradeNoLen = len(tradeNoStamp) + tradeNoSuffix

// NewTradeNo returns YYMMDDHHmmss followed by a random upper-case alphanumeric suffix.
func NewTradeNo(now time.Time) string {
	b := make([]byte, 0, TradeNoLen)
	b = now.AppendFormat(b, tradeNoStamp)
	max := big.NewInt(int64(len(alnum)))
	for i := 0; i < tradeNoSuffix; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(err)
		}
		b = append(b, alnum[n.Int64()])
	}
	return string(b)
}
