package registry

import (
	"sort"

	dErrors "kosherdir/pkg/domain-errors"
)

// Admin permissions checked before any bulk or export work begins. Permission
// assignment lives with the authenticator; only the names are defined here so
// descriptors and middleware agree on them.
const (
	PermBulkOperations = "BULK_OPERATIONS"
	PermImageDelete    = "IMAGE_DELETE"
	PermExportData     = "EXPORT_DATA"
	PermAuditView      = "AUDIT_VIEW"
)

// Descriptor identifies one administrable entity type. Immutable after the
// registry is built; every component reads field policy from here instead of
// hard-coding field lists inline.
type Descriptor struct {
	Name               string
	Fields             []string
	ValidSortFields    []string
	SearchFields       []string
	DefaultSortField   string
	SupportsSoftDelete bool
	AuditAllowlist     []string
	BulkPermission     string

	sortSet  map[string]struct{}
	fieldSet map[string]struct{}
	auditSet map[string]struct{}
}

// HasSortField reports whether name is a valid sort field for this entity.
func (d *Descriptor) HasSortField(name string) bool {
	_, ok := d.sortSet[name]
	return ok
}

// HasField reports whether name is a known exportable field.
func (d *Descriptor) HasField(name string) bool {
	_, ok := d.fieldSet[name]
	return ok
}

// AuditAllowed reports whether a field may be copied into an audit record.
func (d *Descriptor) AuditAllowed(name string) bool {
	_, ok := d.auditSet[name]
	return ok
}

// Registry is the static catalogue of administrable entity types. Pure lookup
// table, no state, safe for concurrent use without locking.
type Registry struct {
	descriptors map[string]*Descriptor
}

// New builds a registry, validating descriptor invariants up front so a
// misconfigured catalogue fails at startup rather than mid-operation.
func New(descriptors ...Descriptor) (*Registry, error) {
	r := &Registry{descriptors: make(map[string]*Descriptor, len(descriptors))}
	for i := range descriptors {
		d := descriptors[i]
		if d.Name == "" {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "descriptor name cannot be empty")
		}
		if _, dup := r.descriptors[d.Name]; dup {
			return nil, dErrors.Newf(dErrors.CodeInvalidInput, "duplicate descriptor %q", d.Name)
		}

		d.fieldSet = toSet(d.Fields)
		d.sortSet = toSet(d.ValidSortFields)
		d.auditSet = toSet(d.AuditAllowlist)

		if _, ok := d.sortSet[d.DefaultSortField]; !ok {
			return nil, dErrors.Newf(dErrors.CodeInvalidInput,
				"entity %q: default sort field %q is not a valid sort field", d.Name, d.DefaultSortField)
		}
		for _, f := range d.ValidSortFields {
			if _, ok := d.fieldSet[f]; !ok {
				return nil, dErrors.Newf(dErrors.CodeInvalidInput,
					"entity %q: sort field %q is not a known field", d.Name, f)
			}
		}
		if d.BulkPermission == "" {
			d.BulkPermission = PermBulkOperations
		}

		r.descriptors[d.Name] = &d
	}
	return r, nil
}

// Describe looks up the descriptor for an entity type.
func (r *Registry) Describe(entityType string) (*Descriptor, error) {
	d, ok := r.descriptors[entityType]
	if !ok {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "unknown entity type %q", entityType)
	}
	return d, nil
}

// Names returns the catalogued entity type names, sorted for stable output.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.descriptors))
	for name := range r.descriptors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func toSet(fields []string) map[string]struct{} {
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// Default returns the production catalogue for the directory.
func Default() (*Registry, error) {
	return New(
		Descriptor{
			Name:               "restaurant",
			Fields:             []string{"id", "name", "address", "city", "phone", "kosher_category", "certification", "status", "created_at", "updated_at"},
			ValidSortFields:    []string{"name", "city", "kosher_category", "status", "created_at", "updated_at"},
			SearchFields:       []string{"name", "address", "city", "certification"},
			DefaultSortField:   "name",
			SupportsSoftDelete: true,
			AuditAllowlist:     []string{"name", "address", "city", "phone", "kosher_category", "certification", "status"},
		},
		Descriptor{
			Name:               "synagogue",
			Fields:             []string{"id", "name", "address", "city", "denomination", "rabbi", "status", "created_at", "updated_at"},
			ValidSortFields:    []string{"name", "city", "denomination", "created_at"},
			SearchFields:       []string{"name", "address", "city", "rabbi"},
			DefaultSortField:   "name",
			SupportsSoftDelete: true,
			AuditAllowlist:     []string{"name", "address", "city", "denomination", "rabbi", "status"},
		},
		Descriptor{
			Name:               "mikvah",
			Fields:             []string{"id", "name", "address", "city", "phone", "supervision", "status", "created_at", "updated_at"},
			ValidSortFields:    []string{"name", "city", "created_at"},
			SearchFields:       []string{"name", "address", "city"},
			DefaultSortField:   "name",
			SupportsSoftDelete: true,
			AuditAllowlist:     []string{"name", "address", "city", "phone", "supervision", "status"},
		},
		Descriptor{
			Name:               "kosher_place",
			Fields:             []string{"id", "name", "address", "city", "category", "certification", "status", "created_at", "updated_at"},
			ValidSortFields:    []string{"name", "city", "category", "created_at"},
			SearchFields:       []string{"name", "address", "city", "category"},
			DefaultSortField:   "name",
			SupportsSoftDelete: true,
			AuditAllowlist:     []string{"name", "address", "city", "category", "certification", "status"},
		},
		Descriptor{
			Name:               "marketplace_listing",
			Fields:             []string{"id", "title", "description", "price", "seller_id", "category", "status", "created_at", "updated_at"},
			ValidSortFields:    []string{"title", "price", "category", "status", "created_at"},
			SearchFields:       []string{"title", "description", "category"},
			DefaultSortField:   "created_at",
			SupportsSoftDelete: true,
			AuditAllowlist:     []string{"title", "price", "category", "status"},
		},
		Descriptor{
			Name:               "image",
			Fields:             []string{"id", "entity_ref", "url", "caption", "uploaded_by", "status", "created_at"},
			ValidSortFields:    []string{"created_at", "status"},
			SearchFields:       []string{"caption", "entity_ref"},
			DefaultSortField:   "created_at",
			SupportsSoftDelete: false,
			AuditAllowlist:     []string{"entity_ref", "url", "caption", "status"},
			BulkPermission:     PermImageDelete,
		},
		Descriptor{
			Name:               "review",
			Fields:             []string{"id", "entity_ref", "author_id", "rating", "body", "status", "created_at"},
			ValidSortFields:    []string{"rating", "status", "created_at"},
			SearchFields:       []string{"body", "entity_ref"},
			DefaultSortField:   "created_at",
			SupportsSoftDelete: true,
			AuditAllowlist:     []string{"entity_ref", "rating", "status"},
		},
	)
}
