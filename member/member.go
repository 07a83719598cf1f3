// Package member holds the account directory consulted by the login flow:
// who exists, what their stored whisper is, whether they may sign in, and
// which pages and features they are granted.
package member

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/emfabro/steelgate/internal/util"
)

var (
	ErrNotFound       = errors.New("member not found")
	ErrExists         = errors.New("member already exists")
	ErrInvalidAccount = errors.New("invalid account identifier")
)

// MaxAccountLen bounds account identifiers in runes after normalisation.
const MaxAccountLen = 64

// Status is the activation state of an account.
type Status int8

const (
	StatusInvalid  Status = -1
	StatusDisabled Status = 0
	StatusEnabled  Status = 1
)

func (s Status) String() string {
	switch s {
	case StatusInvalid:
		return "invalid"
	case StatusDisabled:
		return "disabled"
	case StatusEnabled:
		return "enabled"
	default:
		return fmt.Sprintf("status(%d)", int8(s))
	}
}

// ParseStatus accepts the names produced by Status.String.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "invalid", "inactive":
		return StatusInvalid, nil
	case "disabled":
		return StatusDisabled, nil
	case "enabled":
		return StatusEnabled, nil
	}
	return 0, fmt.Errorf("unknown status %q", s)
}

// Account is one member of the directory.
type Account struct {
	ID        int64     `json:"id"`
	Account   string    `json:"account"`
	Name      string    `json:"name"`
	Whisper   string    `json:"whisper"`
	Status    Status    `json:"status"`
	CreatedBy string    `json:"createdBy,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Item is a single named grant. Page items use "Label::/route".
type Item struct {
	Name string `json:"name"`
}

// Permission is the set of pages and features a member may use.
type Permission struct {
	Page    []Item `json:"page"`
	Feature []Item `json:"feature"`
}

// DefaultPermission is granted to the bootstrap member.
func DefaultPermission() Permission {
	return Permission{
		Page: []Item{
			{Name: "Members::/members"},
			{Name: "Add member::/member"},
			{Name: "Edit member::/member/:memberId"},
			{Name: "Permissions::/permissions"},
		},
		Feature: []Item{},
	}
}

// Directory looks up and registers accounts.
type Directory interface {
	// FindByCredential returns the account only when whisper matches the
	// stored one; any mismatch is ErrNotFound.
	FindByCredential(ctx context.Context, account, whisper string) (*Account, error)
	Exists(ctx context.Context, account string) (bool, error)
	Get(ctx context.Context, account string) (*Account, error)
	Create(ctx context.Context, a Account, perm Permission) (*Account, error)
	Count(ctx context.Context) (int, error)
}

// PermissionSource supplies the permission set embedded in login payloads.
type PermissionSource interface {
	PermissionsFor(ctx context.Context, account string) (Permission, error)
}

// NormalizeAccount folds an account identifier to its canonical key.
func NormalizeAccount(account string) (string, error) {
	n := util.NormalizeIdentifier(account)
	if n == "" {
		return "", fmt.Errorf("empty account: %w", ErrInvalidAccount)
	}
	if utf8.RuneCountInString(n) > MaxAccountLen {
		return "", fmt.Errorf("account longer than %d characters: %w", MaxAccountLen, ErrInvalidAccount)
	}
	for _, r := range n {
		if unicode.IsControl(r) {
			return "", fmt.Errorf("control character in account: %w", ErrInvalidAccount)
		}
	}
	return n, nil
}
