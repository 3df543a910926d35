// Package strategy routes login attempts to verification backends.
//
// The set of backends is closed: each has a Kind, and a Router holds at most one
// backend per Kind.
package strategy

import (
	"fmt"
	"strings"

	"github.com/and161185/credgate/internal/errs"
)

// Kind names a verification backend.
type Kind int

const (
	KindDatabase Kind = iota + 1
	KindFederation
	KindLDAP
	KindActiveDirectory
	KindExternalAPI
)

var kindNames = map[Kind]string{
	KindDatabase:        "database",
	KindFederation:      "federation",
	KindLDAP:            "ldap",
	KindActiveDirectory: "active_directory",
	KindExternalAPI:     "external_api",
}

var selectors = map[string]Kind{
	"database":         KindDatabase,
	"db":               KindDatabase,
	"local":            KindDatabase,
	"federation":       KindFederation,
	"remote":           KindFederation,
	"ldap":             KindLDAP,
	"active_directory": KindActiveDirectory,
	"ad":               KindActiveDirectory,
	"external_api":     KindExternalAPI,
	"api":              KindExternalAPI,
	"external":         KindExternalAPI,
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind maps a selector, case-insensitively, to a Kind.
func ParseKind(selector string) (Kind, error) {
	k, ok := selectors[strings.ToLower(strings.TrimSpace(selector))]
	if !ok {
		return 0, fmt.Errorf("%w: %q", errs.ErrUnsupportedAuthType, selector)
	}
	return k, nil
}
