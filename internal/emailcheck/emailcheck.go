// Package emailcheck validates submitter email addresses: syntax, domain
// resolvability and a static disposable-provider denylist.
//
// The DNS checks make this the one slow, externally-dependent validator
// in the pipeline. Callers must pass a context with a deadline;
// resolution failures are reported as invalid, never as a crash.
package emailcheck

import (
	"context"
	"net"
	"net/mail"
	"strings"
)

// Reason classifies why validation failed.
type Reason string

const (
	ReasonOK         Reason = ""
	ReasonFormat     Reason = "format"
	ReasonDomain     Reason = "domain"
	ReasonDisposable Reason = "disposable"
)

// Message returns the submitter-facing description for a failure reason.
func (r Reason) Message() string {
	switch r {
	case ReasonFormat:
		return "Il formato dell'indirizzo email non è valido."
	case ReasonDomain:
		return "Il dominio email non esiste o non è configurato correttamente."
	case ReasonDisposable:
		return "Gli indirizzi email temporanei non sono consentiti."
	default:
		return "Indirizzo email valido."
	}
}

// Resolver is the subset of net.Resolver the checker needs; swapped for
// a fake in tests.
type Resolver interface {
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Static denylist of known temporary-email providers. Configuration,
// not derived data.
var disposableDomains = map[string]struct{}{
	"tempmail.com":      {},
	"guerrillamail.com": {},
	"mailinator.com":    {},
	"10minutemail.com":  {},
	"throwaway.email":   {},
	"temp-mail.org":     {},
	"getnada.com":       {},
	"maildrop.cc":       {},
	"trashmail.com":     {},
	"yopmail.com":       {},
}

// Checker validates email addresses.
type Checker struct {
	resolver Resolver
}

// New returns a Checker. A nil resolver falls back to net.DefaultResolver.
func New(resolver Resolver) *Checker {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return &Checker{resolver: resolver}
}

// Validate checks address syntax and that the domain resolves via an MX
// record or, failing that, an A record. Absence of MX alone is not
// fatal; an unresolvable domain is.
func (c *Checker) Validate(ctx context.Context, email string) (bool, Reason) {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return false, ReasonFormat
	}

	domain := domainOf(email)
	if domain == "" {
		return false, ReasonFormat
	}

	if mx, err := c.resolver.LookupMX(ctx, domain); err == nil && len(mx) > 0 {
		return true, ReasonOK
	}
	if hosts, err := c.resolver.LookupHost(ctx, domain); err == nil && len(hosts) > 0 {
		return true, ReasonOK
	}

	return false, ReasonDomain
}

// IsDisposable reports whether the address belongs to a known
// temporary-email provider. Case-insensitive on the domain.
func (c *Checker) IsDisposable(email string) bool {
	domain := strings.ToLower(domainOf(email))
	_, found := disposableDomains[domain]
	return found
}

func domainOf(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return email[at+1:]
}
