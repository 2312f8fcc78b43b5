package voucher

import (
	"fmt"
	"math/rand/v2"
	"time"
)

// codeLength — 8 цифр: короткий код удобно диктовать и
// печатать на карточке. Пространство 10^8; уникальность между партиями
// статистическая, внутри партии — гарантируется generateCodes.
const codeLength = 8

const digits = "0123456789"

func randomCode() string {
	b := make([]byte, codeLength)
	for i := range b {
		b[i] = digits[rand.IntN(len(digits))]
	}
	return string(b)
}

// generateCodes — n случайных кодов без повторов внутри партии.
// Межпартийные коллизии ловит уникальный индекс (code, router_id) в ledger.
func generateCodes(n int) []string {
	seen := make(map[string]struct{}, n)
	out := make([]string, 0, n)
	for len(out) < n {
		c := randomCode()
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// manualCodes — детерминированная схема имён, когда коды задаёт оператор:
// PREFIX-<unixmilli>-<i>.
func manualCodes(prefix string, n int) []string {
	if prefix == "" {
		prefix = "VOUCHER"
	}
	ts := time.Now().UnixMilli()
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, fmt.Sprintf("%s-%d-%d", prefix, ts, i))
	}
	return out
}
