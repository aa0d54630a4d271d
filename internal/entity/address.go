// Package entity extracts sender and recipient addresses from message
// headers and resolves them against known addresses.
package entity

import (
	"context"
	"fmt"
	"strings"

	"github.com/emersion/go-message/mail"
)

// Role is the header an address was found in.
type Role string

const (
	RoleFrom Role = "from"
	RoleTo   Role = "to"
	RoleCc   Role = "cc"
	RoleBcc  Role = "bcc"
)

// Roles lists roles in extraction order, paired with their header.
var Roles = []struct {
	Role   Role
	Header string
}{
	{RoleFrom, "From"},
	{RoleTo, "To"},
	{RoleCc, "Cc"},
	{RoleBcc, "Bcc"},
}

// Entry is one normalized address found in a header.
type Entry struct {
	Email    string
	Name     string
	Role     Role
	Position int // index within the role, in header order
}

// Address is a stored address.
type Address struct {
	ID          int64  `db:"id"`
	Email       string `db:"email_address"`
	DisplayName string `db:"display_name"`
}

// Link ties a resolved address to a message role.
type Link struct {
	AddressID int64
	Role      Role
	Position  int
}

// NormalizeEmail lower-cases the domain of an address. The local part is
// kept as is since some systems treat it case-sensitively.
func NormalizeEmail(email string) string {
	email = strings.TrimSpace(email)
	at := strings.LastIndexByte(email, '@')
	if at < 0 {
		return email
	}
	return email[:at] + "@" + strings.ToLower(email[at+1:])
}

// Extract returns the addresses of the From, To, Cc and Bcc headers.
// Repeats within a role are dropped; an address present in two roles
// yields one entry per role.
func Extract(h mail.Header) []Entry {
	var entries []Entry
	for _, r := range Roles {
		seen := make(map[string]bool)
		pos := 0
		for _, addr := range parseList(h, r.Header) {
			email := NormalizeEmail(addr.Address)
			if email == "" || seen[email] {
				continue
			}
			seen[email] = true
			entries = append(entries, Entry{
				Email:    email,
				Name:     strings.TrimSpace(addr.Name),
				Role:     r.Role,
				Position: pos,
			})
			pos++
		}
	}
	return entries
}

// parseList parses an address-list header. If the list as a whole does not
// parse, elements are parsed one by one so a single bad entry does not
// lose the others.
func parseList(h mail.Header, key string) []*mail.Address {
	if !h.Has(key) {
		return nil
	}
	if list, err := h.AddressList(key); err == nil {
		return list
	}

	var list []*mail.Address
	for _, item := range splitList(h.Get(key)) {
		if addr, err := mail.ParseAddress(item); err == nil {
			list = append(list, addr)
		}
	}
	return list
}

// splitList splits on commas and group terminators outside quotes,
// comments and angle brackets, dropping group names.
func splitList(s string) []string {
	var (
		items   []string
		cur     strings.Builder
		quoted  bool
		escaped bool
		depth   int
	)
	for _, c := range s {
		switch {
		case escaped:
			escaped = false
		case c == '\\' && quoted:
			escaped = true
		case c == '"':
			quoted = !quoted
		case quoted:
		case c == '(' || c == '<':
			depth++
		case (c == ')' || c == '>') && depth > 0:
			depth--
		case c == ':' && depth == 0:
			// Group name; its members follow.
			cur.Reset()
			continue
		case (c == ',' || c == ';') && depth == 0:
			if item := strings.TrimSpace(cur.String()); item != "" {
				items = append(items, item)
			}
			cur.Reset()
			continue
		}
		cur.WriteRune(c)
	}
	if item := strings.TrimSpace(cur.String()); item != "" {
		items = append(items, item)
	}
	return items
}

// Repository is the address storage used by Resolve.
type Repository interface {
	// FindAddress returns the address with the exact email, or nil.
	FindAddress(ctx context.Context, email string) (*Address, error)
	// CreateAddress stores a new address and returns its id. If the email
	// was inserted concurrently, it returns the existing id.
	CreateAddress(ctx context.Context, email, name string) (int64, error)
	// FillDisplayName sets the display name only if it is currently empty.
	FillDisplayName(ctx context.Context, id int64, name string) error
}

// Resolve finds or creates the address of every entry and returns one
// link per entry. A known display name is never overwritten; an empty one
// is filled by the first non-empty name seen.
func Resolve(ctx context.Context, repo Repository, entries []Entry) ([]Link, error) {
	ids := make(map[string]int64, len(entries))
	links := make([]Link, 0, len(entries))

	for _, e := range entries {
		id, ok := ids[e.Email]
		if !ok {
			existing, err := repo.FindAddress(ctx, e.Email)
			if err != nil {
				return nil, fmt.Errorf("failed to look up address %s: %w", e.Email, err)
			}
			if existing == nil {
				id, err = repo.CreateAddress(ctx, e.Email, e.Name)
				if err != nil {
					return nil, fmt.Errorf("failed to create address %s: %w", e.Email, err)
				}
			} else {
				id = existing.ID
			}
			ids[e.Email] = id
		}

		if e.Name != "" {
			if err := repo.FillDisplayName(ctx, id, e.Name); err != nil {
				return nil, fmt.Errorf("failed to update display name of %s: %w", e.Email, err)
			}
		}
		links = append(links, Link{AddressID: id, Role: e.Role, Position: e.Position})
	}
	return links, nil
}
