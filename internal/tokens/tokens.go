// Package tokens генерирует slug'и, приватные токены доступа и реферальные коды.
package tokens

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DefaultSlug используется, если из названия не осталось ни одного допустимого символа.
const DefaultSlug = "negocio"

const (
	privateTokenBytes = 32
	adminTokenBytes   = 24

	fallbackCodeLength = 8
	fallbackAlphabet   = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

var referralWords = []string{
	"SOL", "LUNA", "MAR", "RIO", "CIELO", "NUBE", "ROCA", "FLOR", "BOSQUE", "VALLE",
	"MONTE", "LAGO", "PLAYA", "ISLA", "ANDES", "COBRE", "ORO", "PLATA", "JADE", "AMBAR",
	"CONDOR", "PUMA", "HUEMUL", "ZORRO", "TUCAN", "LORO", "COLIBRI", "DELFIN", "BALLENA", "PINGUINO",
	"CEDRO", "ROBLE", "PINO", "ALERCE", "COPIHUE", "CANELO", "MAQUI", "BOLDO", "QUILLAY", "ARAUCARIA",
	"FARO", "PUERTO", "VIENTO", "BRISA", "TRUENO", "AURORA", "ESTRELLA", "COMETA", "VOLCAN", "GLACIAR",
}

// Slugify приводит название к URL-безопасному виду: нижний регистр, без диакритики,
// последовательности прочих символов схлопываются в один дефис.
func Slugify(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, name)
	if err != nil {
		stripped = name
	}
	stripped = strings.ToLower(stripped)

	var b strings.Builder
	b.Grow(len(stripped))
	pendingDash := false
	for _, r := range stripped {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
			continue
		}
		pendingDash = true
	}

	if b.Len() == 0 {
		return DefaultSlug
	}
	return b.String()
}

// SlugCandidate возвращает вариант slug'а для попытки attempt:
// базовый slug для нулевой попытки, затем base-2, base-3 и так далее.
func SlugCandidate(base string, attempt int) string {
	if attempt <= 0 {
		return base
	}
	return fmt.Sprintf("%s-%d", base, attempt+1)
}

// PrivateToken создаёт непредсказуемый токен доступа к панели бизнеса.
func PrivateToken() (string, error) {
	return randomHex(privateTokenBytes)
}

// AdminToken создаёт токен администрирования бизнеса.
func AdminToken() (string, error) {
	return randomHex(adminTokenBytes)
}

// ReferralCode создаёт код вида WORD-NNNN.
func ReferralCode() (string, error) {
	wi, err := rand.Int(rand.Reader, big.NewInt(int64(len(referralWords))))
	if err != nil {
		return "", fmt.Errorf("pick referral word: %w", err)
	}
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		return "", fmt.Errorf("pick referral suffix: %w", err)
	}
	return fmt.Sprintf("%s-%04d", referralWords[wi.Int64()], n.Int64()), nil
}

// FallbackReferralCode создаёт код из 8 заглавных букв и цифр.
func FallbackReferralCode() (string, error) {
	limit := big.NewInt(int64(len(fallbackAlphabet)))
	buf := make([]byte, fallbackCodeLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generate fallback referral code: %w", err)
		}
		buf[i] = fallbackAlphabet[n.Int64()]
	}
	return string(buf), nil
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
