// Package masters loads the account and vendor catalogs used to narrow and
// re-validate classifications.
package masters

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Catalog file names inside a masters directory or prefix.
const (
	AccountsFile = "account_masters.json"
	VendorsFile  = "vendor_masters.json"
)

// ErrNotAList is returned when a catalog file is not a JSON array.
var ErrNotAList = errors.New("catalog must be a JSON list")

// Account is one ledger account entry.
type Account struct {
	Code      string `json:"code"`
	Name      string `json:"name"`
	Type      string `json:"type,omitempty"`
	Direction string `json:"direction,omitempty"`
	Active    *bool  `json:"active,omitempty"`
}

// Kind returns the declared type, falling back to direction, lower-cased.
func (a Account) Kind() string {
	if a.Type != "" {
		return strings.ToLower(a.Type)
	}
	return strings.ToLower(a.Direction)
}

// Vendor is one counterparty entry.
type Vendor struct {
	ID     string `json:"id,omitempty"`
	Code   string `json:"code"`
	Name   string `json:"name"`
	Active *bool  `json:"active,omitempty"`
}

// Key returns the identifier the model should echo back for this vendor.
func (v Vendor) Key() string {
	if v.ID != "" {
		return v.ID
	}
	return v.Code
}

// Catalogs bundles both catalogs. The zero value is valid and empty.
type Catalogs struct {
	Accounts []Account
	Vendors  []Vendor
}

// Empty reports whether neither catalog has entries.
func (c *Catalogs) Empty() bool {
	return c == nil || (len(c.Accounts) == 0 && len(c.Vendors) == 0)
}

// AccountNames returns catalog account names in order.
func (c *Catalogs) AccountNames() []string {
	if c == nil {
		return nil
	}
	names := make([]string, len(c.Accounts))
	for i, a := range c.Accounts {
		names[i] = a.Name
	}
	return names
}

// FindVendor returns the vendor whose ID or code equals key.
func (c *Catalogs) FindVendor(key string) (Vendor, bool) {
	if c == nil || key == "" {
		return Vendor{}, false
	}
	for _, v := range c.Vendors {
		if v.ID == key || v.Code == key {
			return v, true
		}
	}
	return Vendor{}, false
}

// FindAccount returns the account with the given name or code.
func (c *Catalogs) FindAccount(nameOrCode string) (Account, bool) {
	if c == nil || nameOrCode == "" {
		return Account{}, false
	}
	for _, a := range c.Accounts {
		if a.Name == nameOrCode || a.Code == nameOrCode {
			return a, true
		}
	}
	return Account{}, false
}

// Source reads catalog files by name.
type Source interface {
	ReadFile(ctx context.Context, name string) ([]byte, error)
}

// Options controls catalog loading.
type Options struct {
	// ActiveVendorsOnly drops vendors marked "active": false.
	ActiveVendorsOnly bool
}

// Load reads both catalogs from src.
func Load(ctx context.Context, src Source, opts Options) (*Catalogs, error) {
	accounts, err := LoadAccounts(ctx, src)
	if err != nil {
		return nil, err
	}
	vendors, err := LoadVendors(ctx, src, opts.ActiveVendorsOnly)
	if err != nil {
		return nil, err
	}
	return &Catalogs{Accounts: accounts, Vendors: vendors}, nil
}

// LoadAccounts reads the account catalog.
func LoadAccounts(ctx context.Context, src Source) ([]Account, error) {
	entries, err := readList(ctx, src, AccountsFile)
	if err != nil {
		return nil, err
	}
	out := make([]Account, 0, len(entries))
	for _, e := range entries {
		out = append(out, Account{
			Code:      field(e, "code"),
			Name:      field(e, "name"),
			Type:      field(e, "type"),
			Direction: field(e, "direction"),
			Active:    boolField(e, "active"),
		})
	}
	return out, nil
}

// LoadVendors reads the vendor catalog, optionally keeping active entries only.
func LoadVendors(ctx context.Context, src Source, activeOnly bool) ([]Vendor, error) {
	entries, err := readList(ctx, src, VendorsFile)
	if err != nil {
		return nil, err
	}
	out := make([]Vendor, 0, len(entries))
	for _, e := range entries {
		v := Vendor{
			ID:     field(e, "id"),
			Code:   field(e, "code"),
			Name:   field(e, "name"),
			Active: boolField(e, "active"),
		}
		if activeOnly && v.Active != nil && !*v.Active {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func readList(ctx context.Context, src Source, name string) ([]map[string]any, error) {
	data, err := src.ReadFile(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("masters: reading %s: %w", name, err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("masters: decoding %s: %w", name, err)
	}

	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("masters: %s: %w", name, ErrNotAList)
	}

	entries := make([]map[string]any, 0, len(list))
	for _, el := range list {
		if m, ok := el.(map[string]any); ok {
			entries = append(entries, m)
		}
	}
	return entries, nil
}

func field(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

func boolField(m map[string]any, key string) *bool {
	b, ok := m[key].(bool)
	if !ok {
		return nil
	}
	return &b
}
