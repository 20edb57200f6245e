package gotrack

import (
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// Model holds the entity types a tracking session can work with.
// A model is frozen once a StateManager is created over it.
type Model struct {
	types  map[string]*EntityType
	byType map[reflect.Type]*EntityType
	order  []*EntityType
	frozen bool
}

// NewModel creates an empty model.
func NewModel() *Model {
	return &Model{
		types:  map[string]*EntityType{},
		byType: map[reflect.Type]*EntityType{},
	}
}

// EntityOption customizes an entity type at registration.
type EntityOption func(*EntityType)

// WithTable overrides the derived table name.
func WithTable(name string) EntityOption {
	return func(et *EntityType) {
		et.table = strings.TrimSpace(name)
	}
}

// Register adds a struct-backed entity type. Exported fields become
// properties; the `track` tag controls column name and flags:
//
//	ID    int64  `track:"id,key,generated,store"`
//	Note  string `track:"-"`
func (m *Model) Register(target any, opts ...EntityOption) (*EntityType, error) {
	if m.frozen {
		return nil, ErrModelFrozen
	}
	if target == nil {
		return nil, errors.New("gotrack: nil registration target")
	}
	typ := reflect.TypeOf(target)
	if typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	if typ.Kind() != reflect.Struct {
		return nil, fmt.Errorf("gotrack: cannot register %T: not a struct", target)
	}
	if _, ok := m.byType[typ]; ok {
		return nil, fmt.Errorf("gotrack: type %v is already registered", typ)
	}
	if _, ok := m.types[typ.Name()]; ok {
		return nil, fmt.Errorf("gotrack: entity type %q is already registered", typ.Name())
	}
	table, err := resolveTableName(target)
	if err != nil {
		return nil, err
	}

	et := newEntityType(m, typ.Name(), table, typ)
	if err := et.addFields(typ, nil); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		opt(et)
	}
	m.add(et)
	return et, nil
}

// RegisterShadow adds an entity type with no backing struct. Every
// property of such a type is a shadow property.
func (m *Model) RegisterShadow(name string, opts ...EntityOption) (*EntityType, error) {
	if m.frozen {
		return nil, ErrModelFrozen
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("gotrack: empty entity type name")
	}
	if _, ok := m.types[name]; ok {
		return nil, fmt.Errorf("gotrack: entity type %q is already registered", name)
	}
	table, err := resolveTableName(name)
	if err != nil {
		return nil, err
	}
	et := newEntityType(m, name, table, nil)
	for _, opt := range opts {
		opt(et)
	}
	m.add(et)
	return et, nil
}

func (m *Model) add(et *EntityType) {
	m.types[et.name] = et
	if et.goType != nil {
		m.byType[et.goType] = et
	}
	m.order = append(m.order, et)
}

// EntityType looks up a type by name.
func (m *Model) EntityType(name string) (*EntityType, bool) {
	et, ok := m.types[name]
	return et, ok
}

// EntityTypeOf looks up the type registered for obj's struct type.
func (m *Model) EntityTypeOf(obj any) (*EntityType, bool) {
	if obj == nil {
		return nil, false
	}
	typ := reflect.TypeOf(obj)
	if typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	et, ok := m.byType[typ]
	return et, ok
}

// EntityTypes returns the types in registration order.
func (m *Model) EntityTypes() []*EntityType {
	out := make([]*EntityType, len(m.order))
	copy(out, m.order)
	return out
}

func (m *Model) freeze() {
	m.frozen = true
}

// ForeignKeyOption customizes a foreign key declaration.
type ForeignKeyOption func(*fkOptions)

type fkOptions struct {
	navigation   string
	principalKey []string
}

// WithNavigation names the dependent struct field that points at the principal object.
func WithNavigation(field string) ForeignKeyOption {
	return func(o *fkOptions) {
		o.navigation = field
	}
}

// WithPrincipalKey references principal properties other than its primary key.
func WithPrincipalKey(names ...string) ForeignKeyOption {
	return func(o *fkOptions) {
		o.principalKey = names
	}
}

// AddForeignKey declares that properties of dependent reference the key of principal.
func (m *Model) AddForeignKey(dependent *EntityType, properties []string, principal *EntityType, opts ...ForeignKeyOption) (*ForeignKey, error) {
	if m.frozen {
		return nil, ErrModelFrozen
	}
	if dependent == nil || principal == nil {
		return nil, errors.New("gotrack: foreign key needs both a dependent and a principal type")
	}
	if dependent.model != m || principal.model != m {
		return nil, fmt.Errorf("gotrack: foreign key %s -> %s: %w", dependent.name, principal.name, ErrUnknownEntityType)
	}
	if len(properties) == 0 {
		return nil, fmt.Errorf("gotrack: foreign key %s -> %s has no properties", dependent.name, principal.name)
	}

	var o fkOptions
	for _, opt := range opts {
		opt(&o)
	}

	fk := &ForeignKey{dependent: dependent, principal: principal}
	for _, name := range properties {
		p, ok := dependent.byName[name]
		if !ok {
			return nil, fmt.Errorf("gotrack: foreign key property %s.%s not found", dependent.name, name)
		}
		fk.properties = append(fk.properties, p)
	}
	if len(o.principalKey) > 0 {
		for _, name := range o.principalKey {
			p, ok := principal.byName[name]
			if !ok {
				return nil, fmt.Errorf("gotrack: principal key property %s.%s not found", principal.name, name)
			}
			fk.principalKey = append(fk.principalKey, p)
		}
	} else {
		fk.principalKey = principal.key
	}
	if len(fk.principalKey) != len(fk.properties) {
		return nil, fmt.Errorf("gotrack: foreign key %s -> %s has %d properties, principal key has %d",
			dependent.name, principal.name, len(fk.properties), len(fk.principalKey))
	}

	if o.navigation != "" {
		if dependent.goType == nil {
			return nil, fmt.Errorf("gotrack: navigation %q declared on shadow type %s", o.navigation, dependent.name)
		}
		f, ok := dependent.goType.FieldByName(o.navigation)
		if !ok {
			return nil, fmt.Errorf("gotrack: navigation field %s.%s not found", dependent.name, o.navigation)
		}
		if principal.goType == nil || f.Type != reflect.PointerTo(principal.goType) {
			return nil, fmt.Errorf("gotrack: navigation field %s.%s must be of type *%s", dependent.name, o.navigation, principal.name)
		}
		idx := f.Index
		fk.navigation = o.navigation
		fk.navigate = func(obj reflect.Value) any {
			fv := obj.FieldByIndex(idx)
			if fv.IsNil() {
				return nil
			}
			return fv.Interface()
		}
	}

	for _, p := range fk.properties {
		p.foreignKeys = append(p.foreignKeys, fk)
	}
	dependent.foreignKeys = append(dependent.foreignKeys, fk)
	principal.referencing = append(principal.referencing, fk)
	return fk, nil
}

// EntityType describes one tracked type: its properties, key and relationships.
type EntityType struct {
	model       *Model
	name        string
	table       string
	goType      reflect.Type
	properties  []*Property
	byName      map[string]*Property
	shadowCount int
	key         []*Property
	foreignKeys []*ForeignKey
	referencing []*ForeignKey
}

func newEntityType(m *Model, name, table string, goType reflect.Type) *EntityType {
	return &EntityType{
		model:  m,
		name:   name,
		table:  table,
		goType: goType,
		byName: map[string]*Property{},
	}
}

func (et *EntityType) Name() string { return et.name }

// Table is the store table rows of this type live in.
func (et *EntityType) Table() string { return et.table }

// GoType is the backing struct type, nil for shadow types.
func (et *EntityType) GoType() reflect.Type { return et.goType }

// IsShadow reports whether the type has no backing struct.
func (et *EntityType) IsShadow() bool { return et.goType == nil }

// Properties returns every property in ordinal order. The slice must not be modified.
func (et *EntityType) Properties() []*Property { return et.properties }

func (et *EntityType) Property(name string) (*Property, bool) {
	p, ok := et.byName[name]
	return p, ok
}

// ShadowPropertyCount is the number of shadow slots each entry of this type carries.
func (et *EntityType) ShadowPropertyCount() int { return et.shadowCount }

// Key returns the primary key properties in declaration order.
func (et *EntityType) Key() []*Property { return et.key }

// ForeignKeys returns the foreign keys declared on this type as dependent.
func (et *EntityType) ForeignKeys() []*ForeignKey { return et.foreignKeys }

// Referencing returns the foreign keys that point at this type.
func (et *EntityType) Referencing() []*ForeignKey { return et.referencing }

func (et *EntityType) String() string { return et.name }

// AddShadowProperty declares a property stored only in the entry's own slots.
func (et *EntityType) AddShadowProperty(name string, typ reflect.Type, opts ...PropertyOption) (*Property, error) {
	if et.model.frozen {
		return nil, ErrModelFrozen
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("gotrack: empty property name on %s", et.name)
	}
	if typ == nil {
		return nil, fmt.Errorf("gotrack: property %s.%s has no type", et.name, name)
	}
	p := &Property{name: name, column: toSnakeCase(name), typ: typ, shadowIndex: -1}
	for _, opt := range opts {
		opt(p)
	}
	if err := p.finish(); err != nil {
		return nil, fmt.Errorf("gotrack: property %s.%s: %w", et.name, name, err)
	}
	p.shadowIndex = et.shadowCount
	et.shadowCount++
	if err := et.addProperty(p); err != nil {
		et.shadowCount--
		return nil, err
	}
	return p, nil
}

func (et *EntityType) addProperty(p *Property) error {
	if _, ok := et.byName[p.name]; ok {
		return fmt.Errorf("gotrack: duplicate property %s.%s", et.name, p.name)
	}
	p.declaring = et
	p.index = len(et.properties)
	et.properties = append(et.properties, p)
	et.byName[p.name] = p
	if p.isKey {
		et.key = append(et.key, p)
	}
	return nil
}

func (et *EntityType) addFields(typ reflect.Type, prefix []int) error {
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag, hasTag := f.Tag.Lookup("track")
		if tag == "-" {
			continue
		}
		idx := append(append([]int{}, prefix...), i)
		if f.Anonymous && f.Type.Kind() == reflect.Struct && !hasTag {
			if err := et.addFields(f.Type, idx); err != nil {
				return err
			}
			continue
		}
		if !f.IsExported() {
			continue
		}
		p, err := fieldProperty(f, idx, tag)
		if err != nil {
			return fmt.Errorf("gotrack: field %s.%s: %w", et.name, f.Name, err)
		}
		if err := et.addProperty(p); err != nil {
			return err
		}
	}
	return nil
}

func fieldProperty(f reflect.StructField, idx []int, tag string) (*Property, error) {
	p := &Property{name: f.Name, column: toSnakeCase(f.Name), typ: f.Type, shadowIndex: -1}
	parts := strings.Split(tag, ",")
	if c := strings.TrimSpace(parts[0]); c != "" {
		p.column = c
	}
	for _, flag := range parts[1:] {
		switch strings.TrimSpace(flag) {
		case "key":
			p.isKey = true
		case "generated":
			p.generateOnAdd = true
		case "store":
			p.storeGenerated = true
		case "token":
			p.concurrencyToken = true
		case "":
		default:
			return nil, fmt.Errorf("unknown track flag %q", flag)
		}
	}
	if err := p.finish(); err != nil {
		return nil, err
	}
	p.get = func(obj reflect.Value) any {
		return obj.FieldByIndex(idx).Interface()
	}
	p.set = func(obj reflect.Value, v any) {
		fv := obj.FieldByIndex(idx)
		if v == nil {
			fv.SetZero()
			return
		}
		fv.Set(reflect.ValueOf(v))
	}
	return p, nil
}

// Property describes one tracked value of an entity type.
type Property struct {
	declaring        *EntityType
	name             string
	column           string
	typ              reflect.Type
	index            int
	shadowIndex      int
	isKey            bool
	generateOnAdd    bool
	storeGenerated   bool
	concurrencyToken bool
	sentinel         any
	sentinelSet      bool
	foreignKeys      []*ForeignKey

	get func(obj reflect.Value) any
	set func(obj reflect.Value, v any)
}

// PropertyOption configures a shadow property.
type PropertyOption func(*Property)

// AsKey makes the property part of the primary key.
func AsKey() PropertyOption { return func(p *Property) { p.isKey = true } }

// GeneratedOnAdd asks for a generated value when an entry enters the Added state.
func GeneratedOnAdd() PropertyOption { return func(p *Property) { p.generateOnAdd = true } }

// StoreGenerated marks a property whose authoritative value the store assigns on insert.
func StoreGenerated() PropertyOption { return func(p *Property) { p.storeGenerated = true } }

// ConcurrencyToken includes the original value in update and delete predicates.
func ConcurrencyToken() PropertyOption { return func(p *Property) { p.concurrencyToken = true } }

// WithSentinel overrides the "unset" marker, which defaults to the type's zero value.
func WithSentinel(v any) PropertyOption {
	return func(p *Property) {
		p.sentinel = v
		p.sentinelSet = true
	}
}

// WithColumn overrides the derived column name.
func WithColumn(name string) PropertyOption {
	return func(p *Property) { p.column = name }
}

func (p *Property) finish() error {
	if p.sentinelSet {
		if p.sentinel != nil && !reflect.TypeOf(p.sentinel).AssignableTo(p.typ) {
			return fmt.Errorf("sentinel %v is not assignable to %v", p.sentinel, p.typ)
		}
		return nil
	}
	p.sentinel = reflect.Zero(p.typ).Interface()
	return nil
}

func (p *Property) Name() string { return p.name }
func (p *Property) Column() string { return p.column }
func (p *Property) DeclaringType() *EntityType { return p.declaring }
func (p *Property) Type() reflect.Type { return p.typ }
func (p *Property) Index() int { return p.index }
func (p *Property) ShadowIndex() int { return p.shadowIndex }
func (p *Property) IsShadowProperty() bool { return p.shadowIndex >= 0 }
func (p *Property) IsKey() bool { return p.isKey }
func (p *Property) IsForeignKey() bool { return len(p.foreignKeys) > 0 }
func (p *Property) ForeignKeys() []*ForeignKey { return p.foreignKeys }
func (p *Property) GenerateValueOnAdd() bool { return p.generateOnAdd }
func (p *Property) IsStoreGenerated() bool { return p.storeGenerated }
func (p *Property) IsConcurrencyToken() bool { return p.concurrencyToken }
func (p *Property) Sentinel() any { return p.sentinel }

func (p *Property) String() string {
	if p.declaring == nil {
		return p.name
	}
	return p.declaring.name + "." + p.name
}

// IsSentinelValue reports whether v means "no value supplied". Nil and
// typed nil pointers are always sentinel.
func (p *Property) IsSentinelValue(v any) bool {
	if isNil(v) {
		return true
	}
	if isNil(p.sentinel) {
		return false
	}
	return valuesEqual(v, p.sentinel)
}

// ConvertValue coerces a value read from a store into the property's type.
func (p *Property) ConvertValue(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(p.typ) {
		return v, nil
	}
	if reflect.PointerTo(p.typ).Implements(scannerType) {
		nv := reflect.New(p.typ)
		if err := nv.Interface().(sql.Scanner).Scan(v); err != nil {
			return nil, fmt.Errorf("gotrack: convert %T to %v for %s: %w", v, p.typ, p, err)
		}
		return nv.Elem().Interface(), nil
	}
	if p.typ.Kind() == reflect.Pointer && rv.Type().ConvertibleTo(p.typ.Elem()) {
		nv := reflect.New(p.typ.Elem())
		nv.Elem().Set(rv.Convert(p.typ.Elem()))
		return nv.Interface(), nil
	}
	if p.typ.Kind() == reflect.String && isInteger(rv.Kind()) {
		return nil, fmt.Errorf("gotrack: convert %T to %v for %s: refusing integer to string", v, p.typ, p)
	}
	if rv.Type().ConvertibleTo(p.typ) {
		return rv.Convert(p.typ).Interface(), nil
	}
	return nil, fmt.Errorf("gotrack: convert %T to %v for %s: incompatible types", v, p.typ, p)
}

func (p *Property) assignable(v any) bool {
	return v == nil || reflect.TypeOf(v).AssignableTo(p.typ)
}

var scannerType = reflect.TypeOf((*sql.Scanner)(nil)).Elem()

func isInteger(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return isNil(a) && isNil(b)
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta == tb && ta.Comparable() {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}

// ForeignKey links dependent properties to a principal's key.
type ForeignKey struct {
	dependent    *EntityType
	principal    *EntityType
	properties   []*Property
	principalKey []*Property
	navigation   string
	navigate     func(obj reflect.Value) any
}

func (fk *ForeignKey) Dependent() *EntityType { return fk.dependent }
func (fk *ForeignKey) Principal() *EntityType { return fk.principal }
func (fk *ForeignKey) Properties() []*Property { return fk.properties }
func (fk *ForeignKey) PrincipalKey() []*Property { return fk.principalKey }
func (fk *ForeignKey) Navigation() string { return fk.navigation }

func (fk *ForeignKey) String() string {
	names := make([]string, len(fk.properties))
	for i, p := range fk.properties {
		names[i] = p.name
	}
	return fmt.Sprintf("%s(%s) -> %s", fk.dependent.name, strings.Join(names, ", "), fk.principal.name)
}

// principalProperty returns the principal key property p maps to.
func (fk *ForeignKey) principalProperty(p *Property) *Property {
	for i, fp := range fk.properties {
		if fp == p {
			return fk.principalKey[i]
		}
	}
	return nil
}
