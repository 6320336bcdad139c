// Package tenant maps WhatsApp business phone number ids to the storage
// table and access token that serve them.
package tenant

import (
	"fmt"
	"regexp"
	"strings"

	"whatsrelay/internal/constants"
	"whatsrelay/internal/errors"
	"whatsrelay/internal/models"
)

var tableNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

var reservedTables = map[string]bool{
	"tenant_tables":     true,
	"schema_migrations": true,
}

// Table is a validated storage table identifier. It is safe to interpolate
// into SQL; the zero value is never valid.
type Table struct {
	name string
}

// NewTable validates name against the table naming rules.
func NewTable(name string) (Table, error) {
	if !tableNamePattern.MatchString(name) {
		return Table{}, fmt.Errorf("invalid table name %q: must match %s", name, tableNamePattern.String())
	}
	if reservedTables[name] {
		return Table{}, fmt.Errorf("table name %q is reserved", name)
	}
	return Table{name: name}, nil
}

func (t Table) String() string { return t.name }

func (t Table) IsZero() bool { return t.name == "" }

// Tenant is one registered phone number identity
type Tenant struct {
	Name          string
	PhoneNumberID string
	Table         Table
	Credential    string
}

// Registry is the immutable phone_number_id -> tenant lookup built at startup.
type Registry struct {
	byPhoneID map[string]Tenant
	ordered   []Tenant
}

// NewRegistry builds a registry from configuration. Tenants without their
// own access token fall back to defaultToken.
func NewRegistry(configs []models.TenantConfig, defaultToken string) (*Registry, error) {
	r := &Registry{
		byPhoneID: make(map[string]Tenant, len(configs)),
		ordered:   make([]Tenant, 0, len(configs)),
	}
	tables := make(map[string]string, len(configs))

	for _, cfg := range configs {
		phoneID := strings.TrimSpace(cfg.PhoneNumberID)
		if phoneID == "" {
			return nil, fmt.Errorf("empty phone_number_id for tenant %q", cfg.Name)
		}
		if _, exists := r.byPhoneID[phoneID]; exists {
			return nil, fmt.Errorf("duplicate phone_number_id: %s", phoneID)
		}

		tableName := cfg.Table
		if tableName == "" {
			tableName = DefaultTableName(phoneID)
		}
		table, err := NewTable(tableName)
		if err != nil {
			return nil, fmt.Errorf("tenant %q: %w", cfg.Name, err)
		}
		if owner, exists := tables[table.name]; exists {
			return nil, fmt.Errorf("table %s is shared by phone numbers %s and %s", table.name, owner, phoneID)
		}

		credential := cfg.AccessToken
		if credential == "" {
			credential = defaultToken
		}
		if credential == "" {
			return nil, fmt.Errorf("no access token for tenant %q", cfg.Name)
		}

		name := cfg.Name
		if name == "" {
			name = phoneID
		}

		t := Tenant{
			Name:          name,
			PhoneNumberID: phoneID,
			Table:         table,
			Credential:    credential,
		}
		tables[table.name] = phoneID
		r.byPhoneID[phoneID] = t
		r.ordered = append(r.ordered, t)
	}

	if len(r.ordered) == 0 {
		return nil, fmt.Errorf("no tenants configured")
	}

	return r, nil
}

// DefaultTableName derives the table name used when a tenant does not set one.
func DefaultTableName(phoneNumberID string) string {
	return fmt.Sprintf(constants.TenantTableNameTemplate, strings.ToLower(phoneNumberID))
}

// Resolve returns the tenant registered for phoneNumberID. There is no
// default tenant: unknown ids always fail with UNKNOWN_TENANT.
func (r *Registry) Resolve(phoneNumberID string) (Tenant, error) {
	t, ok := r.byPhoneID[phoneNumberID]
	if !ok {
		return Tenant{}, errors.NewUnknownTenantError(phoneNumberID)
	}
	return t, nil
}

// Tenants returns all tenants in configuration order
func (r *Registry) Tenants() []Tenant {
	out := make([]Tenant, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Tables returns the allow-list of storage tables
func (r *Registry) Tables() []Table {
	out := make([]Table, 0, len(r.ordered))
	for _, t := range r.ordered {
		out = append(out, t.Table)
	}
	return out
}

// Len returns the number of configured tenants
func (r *Registry) Len() int {
	return len(r.ordered)
}
