package capi

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/ignite/phase-funnel/internal/tracking"
)

// Brazil is the only market the phone heuristic knows.
const countryCode = "55"

func hashSHA256(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

// hashed returns the digest of norm(v), or "" when nothing survives
// normalisation so the field is omitted.
func hashed(v string, norm func(string) string) string {
	n := norm(v)
	if n == "" {
		return ""
	}
	return hashSHA256(n)
}

// NormalizeEmail trims and lowercases.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// stripDiacritics decomposes and drops combining marks: "São" -> "Sao".
func stripDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

func keepAlnum(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeName is used for first/last name, city and state.
func NormalizeName(s string) string {
	return keepAlnum(strings.ToLower(stripDiacritics(strings.TrimSpace(s))))
}

// NormalizeGender maps anything starting with m/f (including the Portuguese
// "masculino"/"feminino") to a single letter. Other values are dropped.
func NormalizeGender(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	switch s[0] {
	case 'm':
		return "m"
	case 'f':
		return "f"
	}
	return ""
}

// NormalizeBirthdate keeps digits; anything that is not YYYYMMDD is dropped.
func NormalizeBirthdate(s string) string {
	d := digitsOnly(s)
	if len(d) != 8 {
		return ""
	}
	return d
}

// NormalizeZip keeps letters and digits, lowercased.
func NormalizeZip(s string) string {
	return keepAlnum(strings.ToLower(strings.TrimSpace(s)))
}

// NormalizeCountry returns a lowercase two-letter code or "".
func NormalizeCountry(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != 2 || !isASCIILetters(s) {
		return ""
	}
	return s
}

func isASCIILetters(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 'a' || s[i] > 'z' {
			return false
		}
	}
	return true
}

// NormalizePhone applies the domestic heuristic: digits only, one leading
// trunk "0" removed, a doubled country code collapsed, and the country code
// prepended to 10/11-digit domestic numbers. Foreign numbers pass through
// as digits.
func NormalizePhone(s string) string {
	d := digitsOnly(s)
	d = strings.TrimPrefix(d, "0")
	if strings.HasPrefix(d, countryCode+countryCode) && len(d) > 13 {
		d = d[len(countryCode):]
	}
	if len(d) == 10 || len(d) == 11 {
		d = countryCode + d
	}
	return d
}

// UserData is the platform's user_data object. Hashed fields are hex
// SHA-256 digests; the rest are plaintext. Empty fields are omitted.
type UserData struct {
	Email           string `json:"em,omitempty"`
	Phone           string `json:"ph,omitempty"`
	FirstName       string `json:"fn,omitempty"`
	LastName        string `json:"ln,omitempty"`
	Gender          string `json:"ge,omitempty"`
	Birthdate       string `json:"db,omitempty"`
	City            string `json:"ct,omitempty"`
	State           string `json:"st,omitempty"`
	ZipCode         string `json:"zp,omitempty"`
	Country         string `json:"country,omitempty"`
	ExternalID      string `json:"external_id,omitempty"`
	ClientIPAddress string `json:"client_ip_address,omitempty"`
	ClientUserAgent string `json:"client_user_agent,omitempty"`
	FBP             string `json:"fbp,omitempty"`
	FBC             string `json:"fbc,omitempty"`
}

// BuildUserData normalises and hashes the person attributes of fr.
func BuildUserData(fr tracking.ForwardRequest, clientIP string) UserData {
	ud := UserData{
		Email:      hashed(fr.Email, NormalizeEmail),
		Phone:      hashed(fr.Phone, NormalizePhone),
		FirstName:  hashed(fr.FirstName, NormalizeName),
		LastName:   hashed(fr.LastName, NormalizeName),
		Gender:     hashed(fr.Gender, NormalizeGender),
		Birthdate:  hashed(fr.Birthdate, NormalizeBirthdate),
		City:       hashed(fr.City, NormalizeName),
		State:      hashed(fr.State, NormalizeName),
		ZipCode:    hashed(fr.ZipCode, NormalizeZip),
		Country:    NormalizeCountry(fr.Country),
		ExternalID: strings.TrimSpace(fr.ExternalID),
		FBP:        strings.TrimSpace(fr.FBP),
		FBC:        strings.TrimSpace(fr.FBC),

		ClientUserAgent: fr.UserAgent,
	}
	if clientIP != UnknownIP {
		ud.ClientIPAddress = clientIP
	}
	return ud
}
