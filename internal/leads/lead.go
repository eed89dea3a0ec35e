// Package leads validates captured contacts and delivers them to the
// configured sinks.
package leads

import (
	"fmt"
	"net/mail"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/samber/lo"

	"github.com/ignite/phase-funnel/internal/scoring"
	"github.com/ignite/phase-funnel/internal/utm"
)

// Lead is one captured contact plus the quiz outcome that produced it.
type Lead struct {
	ID         string                  `json:"id"`
	Name       string                  `json:"name"`
	Email      string                  `json:"email"`
	Phone      string                  `json:"phone"`
	Segment    scoring.Segment         `json:"segment,omitempty"`
	Scores     map[scoring.Segment]int `json:"scores,omitempty"`
	UTM        utm.Params              `json:"utm,omitempty"`
	ExternalID string                  `json:"externalId,omitempty"`
	SourceURL  string                  `json:"sourceUrl,omitempty"`
	CreatedAt  time.Time               `json:"createdAt"`
}

const maxNameLen = 120

// FieldErrors maps a form field to a user-facing message.
type FieldErrors map[string]string

func (fe FieldErrors) Error() string {
	keys := lo.Keys(fe)
	sort.Strings(keys)
	parts := lo.Map(keys, func(k string, _ int) string {
		return fmt.Sprintf("%s: %s", k, fe[k])
	})
	return "invalid lead: " + strings.Join(parts, "; ")
}

// Normalize trims every field and lowercases the email.
func (l *Lead) Normalize() {
	l.Name = strings.Join(strings.Fields(l.Name), " ")
	l.Email = strings.ToLower(strings.TrimSpace(l.Email))
	l.Phone = strings.TrimSpace(l.Phone)
}

// Validate returns FieldErrors describing every invalid field, or nil.
// Messages are shown to the user as written.
func (l Lead) Validate() error {
	fe := FieldErrors{}
	name := strings.TrimSpace(l.Name)
	switch {
	case name == "":
		fe["name"] = "Informe seu nome."
	case utf8.RuneCountInString(name) > maxNameLen:
		fe["name"] = "Nome muito longo."
	}
	if !validEmail(l.Email) {
		fe["email"] = "Informe um e-mail válido."
	}
	if n := countDigits(l.Phone); n < 10 || n > 15 {
		fe["phone"] = "Informe um telefone com DDD."
	}
	if l.Segment != "" && !l.Segment.Valid() {
		fe["segment"] = "Resultado do quiz inválido."
	}
	if len(fe) == 0 {
		return nil
	}
	return fe
}

func validEmail(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || strings.ContainsAny(s, " <>") {
		return false
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return false
	}
	at := strings.LastIndex(s, "@")
	return at > 0 && strings.Contains(s[at+1:], ".")
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

// FirstName returns the first word of Name.
func (l Lead) FirstName() string {
	f := strings.Fields(l.Name)
	if len(f) == 0 {
		return ""
	}
	return f[0]
}

// LastName returns everything after the first word of Name.
func (l Lead) LastName() string {
	f := strings.Fields(l.Name)
	if len(f) < 2 {
		return ""
	}
	return strings.Join(f[1:], " ")
}
