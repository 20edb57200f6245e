package gotrack

import (
	"context"
	"reflect"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingGenerator struct {
	calls int
	value any
}

func (g *countingGenerator) Next(*Property) any {
	g.calls++
	return g.value
}

func (g *countingGenerator) GeneratesTemporaryValues() bool { return false }

func TestGenerateKeepsSuppliedValues(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	id := prop(t, f.order, "ID")
	g := &countingGenerator{value: int64(99)}
	f.sm.Generators().SetGenerator(id, g)

	e, err := f.sm.Add(&Order{ID: 7, Status: "new"})
	require.NoError(t, err)

	assert.Equal(t, int64(7), e.ReadProperty(id))
	assert.False(t, e.IsTemporary(id))
	assert.Zero(t, g.calls)
}

func TestGenerateTemporaryKeys(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{TemporaryKeySeed: -100})
	id := prop(t, f.order, "ID")

	first, err := f.sm.Add(&Order{})
	require.NoError(t, err)
	second, err := f.sm.Add(&Order{})
	require.NoError(t, err)

	assert.Equal(t, int64(-100), first.ReadProperty(id))
	assert.Equal(t, int64(-101), second.ReadProperty(id))
	assert.True(t, first.IsTemporary(id))
	assert.True(t, second.HasTemporaryValues())

	found, ok := f.sm.Find(f.order, int64(-101))
	require.True(t, ok)
	assert.Same(t, second, found)
}

func TestGenerateNeverInvokesGeneratorForForeignKeys(t *testing.T) {
	t.Parallel()

	m := NewModel()
	orders, err := m.RegisterShadow("Order")
	require.NoError(t, err)
	_, err = orders.AddShadowProperty("Id", reflect.TypeFor[int64](), AsKey())
	require.NoError(t, err)
	lines, err := m.RegisterShadow("OrderLine")
	require.NoError(t, err)
	_, err = lines.AddShadowProperty("Id", reflect.TypeFor[int64](), AsKey(), GeneratedOnAdd())
	require.NoError(t, err)
	orderID, err := lines.AddShadowProperty("OrderId", reflect.TypeFor[int64](), GeneratedOnAdd())
	require.NoError(t, err)
	fk, err := m.AddForeignKey(lines, []string{"OrderId"}, orders)
	require.NoError(t, err)
	sm := New(m, Config{})

	g := &countingGenerator{value: int64(1000)}
	sm.Generators().SetGenerator(orderID, g)

	line, err := sm.CreateEntry(lines)
	require.NoError(t, err)
	sm.ValueGeneration().Generate(line)
	assert.Zero(t, g.calls)
	assert.Equal(t, int64(0), line.ReadProperty(orderID))

	order, err := sm.CreateEntry(orders)
	require.NoError(t, err)
	require.NoError(t, line.SetPrincipal(fk, order))
	assert.Equal(t, int64(0), line.ReadProperty(orderID))
	order.WriteProperty(prop(t, orders, "Id"), int64(5))
	sm.ValueGeneration().Generate(line)

	assert.Zero(t, g.calls)
	assert.Equal(t, int64(5), line.ReadProperty(orderID))
	assert.False(t, line.IsTemporary(orderID))
}

func TestGenerateNilValueLeavesPropertyUnset(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	id := prop(t, f.order, "ID")
	f.sm.Generators().SetGenerator(id, NewValueGenerator(func(*Property) any { return nil }, true))

	e, err := f.sm.Add(&Order{})
	require.NoError(t, err)

	assert.Equal(t, int64(0), e.ReadProperty(id))
	assert.False(t, e.IsTemporary(id))
	_, ok := e.Key()
	assert.False(t, ok)
}

func TestGenerateTypedNilLeavesPropertyUnset(t *testing.T) {
	t.Parallel()

	m := NewModel()
	et, err := m.RegisterShadow("Memo")
	require.NoError(t, err)
	_, err = et.AddShadowProperty("Id", reflect.TypeFor[int64](), AsKey())
	require.NoError(t, err)
	text, err := et.AddShadowProperty("Text", reflect.TypeFor[*string](), GeneratedOnAdd())
	require.NoError(t, err)
	sm := New(m, Config{})
	sm.Generators().SetGenerator(text, NewValueGenerator(func(*Property) any { return (*string)(nil) }, true))

	e, err := sm.CreateEntry(et)
	require.NoError(t, err)
	sm.ValueGeneration().Generate(e)

	assert.Nil(t, e.ReadProperty(text))
	assert.False(t, e.IsTemporary(text))
	assert.False(t, e.HasTemporaryValues())
}

func TestGenerateWithoutGenerator(t *testing.T) {
	t.Parallel()

	m := NewModel()
	et, err := m.RegisterShadow("Reading")
	require.NoError(t, err)
	_, err = et.AddShadowProperty("Value", reflect.TypeFor[float64](), GeneratedOnAdd())
	require.NoError(t, err)
	sm := New(m, Config{})

	e, err := sm.CreateEntry(et)
	require.NoError(t, err)
	requireFault(t, MetadataFault, func() { sm.ValueGeneration().Generate(e) })
	requireFault(t, ArgumentFault, func() { sm.ValueGeneration().Generate(nil) })
}

func TestMayGetTemporaryValue(t *testing.T) {
	t.Parallel()

	m := NewModel()
	et, err := m.RegisterShadow("Device")
	require.NoError(t, err)
	add := func(name string, typ reflect.Type, opts ...PropertyOption) *Property {
		p, err := et.AddShadowProperty(name, typ, opts...)
		require.NoError(t, err)
		return p
	}
	intKey := add("Id", reflect.TypeFor[int64](), AsKey(), GeneratedOnAdd())
	uuidProp := add("Serial", reflect.TypeFor[uuid.UUID](), GeneratedOnAdd())
	plain := add("Label", reflect.TypeFor[string]())
	noGenerator := add("Weight", reflect.TypeFor[float64](), GeneratedOnAdd())
	sm := New(m, Config{})
	gm := sm.ValueGeneration()

	tcs := []struct {
		name string
		p    *Property
		want bool
	}{
		{name: "temporary integer", p: intKey, want: true},
		{name: "uuid", p: uuidProp, want: false},
		{name: "not generated", p: plain, want: false},
		{name: "no generator", p: noGenerator, want: false},
	}
	for _, tc := range tcs {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, gm.MayGetTemporaryValue(tc.p))
		})
	}

	requireFault(t, ArgumentFault, func() { gm.MayGetTemporaryValue(nil) })
}

func TestTemporaryIntegerGenerator(t *testing.T) {
	t.Parallel()

	m := NewModel()
	et, err := m.RegisterShadow("Counter")
	require.NoError(t, err)
	add := func(name string, typ reflect.Type) *Property {
		p, err := et.AddShadowProperty(name, typ)
		require.NoError(t, err)
		return p
	}
	wide := add("Wide", reflect.TypeFor[int64]())
	narrow := add("Narrow", reflect.TypeFor[int32]())
	tiny := add("Tiny", reflect.TypeFor[int8]())
	unsigned := add("Unsigned", reflect.TypeFor[uint]())

	g := NewTemporaryIntegerGenerator(DefaultTemporaryKeySeed)
	assert.True(t, g.GeneratesTemporaryValues())
	assert.Equal(t, int64(-1), g.Next(wide))
	assert.Equal(t, int64(-2), g.Next(wide))
	assert.Equal(t, int32(-3), g.Next(narrow))

	requireFault(t, MetadataFault, func() { NewTemporaryIntegerGenerator(-200).Next(tiny) })
	requireFault(t, MetadataFault, func() { g.Next(unsigned) })
}

type Serial string

func TestUUIDGenerator(t *testing.T) {
	t.Parallel()

	m := NewModel()
	et, err := m.RegisterShadow("Token")
	require.NoError(t, err)
	add := func(name string, typ reflect.Type) *Property {
		p, err := et.AddShadowProperty(name, typ)
		require.NoError(t, err)
		return p
	}
	native := add("Native", reflect.TypeFor[uuid.UUID]())
	text := add("Text", reflect.TypeFor[string]())
	named := add("Named", reflect.TypeFor[Serial]())
	raw := add("Raw", reflect.TypeFor[[]byte]())
	number := add("Number", reflect.TypeFor[int]())

	g := UUIDGenerator{}
	assert.False(t, g.GeneratesTemporaryValues())

	id, ok := g.Next(native).(uuid.UUID)
	require.True(t, ok)
	assert.NotEqual(t, uuid.Nil, id)

	s, ok := g.Next(text).(string)
	require.True(t, ok)
	_, err = uuid.Parse(s)
	assert.NoError(t, err)

	_, ok = g.Next(named).(Serial)
	assert.True(t, ok)

	b, ok := g.Next(raw).([]byte)
	require.True(t, ok)
	assert.Len(t, b, 16)

	assert.NotEqual(t, g.Next(native), g.Next(native))
	requireFault(t, MetadataFault, func() { g.Next(number) })
}

func TestDefaultValueGeneratorSelector(t *testing.T) {
	t.Parallel()

	m := NewModel()
	et, err := m.RegisterShadow("Mixed")
	require.NoError(t, err)

	tcs := []struct {
		name string
		typ  reflect.Type
		want reflect.Type
	}{
		{name: "Uuid", typ: reflect.TypeFor[uuid.UUID](), want: reflect.TypeFor[UUIDGenerator]()},
		{name: "String", typ: reflect.TypeFor[string](), want: reflect.TypeFor[UUIDGenerator]()},
		{name: "Bytes", typ: reflect.TypeFor[[]byte](), want: reflect.TypeFor[UUIDGenerator]()},
		{name: "Int", typ: reflect.TypeFor[int](), want: reflect.TypeFor[*TemporaryIntegerGenerator]()},
		{name: "Int16", typ: reflect.TypeFor[int16](), want: reflect.TypeFor[*TemporaryIntegerGenerator]()},
		{name: "Float", typ: reflect.TypeFor[float64]()},
		{name: "Bool", typ: reflect.TypeFor[bool]()},
	}
	props := make([]*Property, len(tcs))
	for i, tc := range tcs {
		props[i], err = et.AddShadowProperty(tc.name, tc.typ)
		require.NoError(t, err)
	}

	selector := DefaultValueGeneratorSelector(DefaultTemporaryKeySeed)
	for i, tc := range tcs {
		g := selector(props[i])
		if tc.want == nil {
			assert.Nil(t, g, tc.name)
			continue
		}
		assert.Equal(t, tc.want, reflect.TypeOf(g), tc.name)
	}
}

func TestValueGeneratorCache(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	id := prop(t, f.order, "ID")
	status := prop(t, f.order, "Status")
	version := prop(t, f.order, "Version")

	selected := 0
	cache := NewValueGeneratorCache(func(p *Property) ValueGenerator {
		selected++
		if p == status {
			return nil
		}
		return NewTemporaryIntegerGenerator(-1)
	})

	g := cache.GetGenerator(id)
	require.NotNil(t, g)
	assert.Same(t, g, cache.GetGenerator(id))
	assert.Equal(t, 1, selected)

	assert.Nil(t, cache.GetGenerator(status))
	assert.Nil(t, cache.GetGenerator(status))
	assert.Equal(t, 3, selected)

	pinned := &countingGenerator{value: 1}
	cache.SetGenerator(version, pinned)
	assert.Same(t, pinned, cache.GetGenerator(version))
	assert.Equal(t, 3, selected)

	cache.SetGenerator(id, nil)
	assert.NotSame(t, g, cache.GetGenerator(id))
	assert.Equal(t, 4, selected)

	assert.NotNil(t, NewValueGeneratorCache(nil).GetGenerator(id))
	requireFault(t, ArgumentFault, func() { cache.GetGenerator(nil) })
	requireFault(t, ArgumentFault, func() { cache.SetGenerator(nil, pinned) })
}

func TestNewValueGenerationManagerRequiresCollaborators(t *testing.T) {
	t.Parallel()

	cache := NewValueGeneratorCache(nil)
	propagator := NewForeignKeyValuePropagator(nil)

	requireFault(t, ArgumentFault, func() { NewValueGenerationManager(nil, propagator, nil) })
	requireFault(t, ArgumentFault, func() { NewValueGenerationManager(cache, nil, nil) })
	assert.NotNil(t, NewValueGenerationManager(cache, propagator, nil))
}

func TestPropagateValueMirrorsTemporaryFlag(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	customerID := prop(t, f.order, "CustomerID")

	c := &Customer{Name: "ada"}
	_, err := f.sm.Add(c)
	require.NoError(t, err)
	o := &Order{Customer: c}
	e, err := f.sm.Add(o)
	require.NoError(t, err)

	assert.Equal(t, int64(-1), o.CustomerID)
	assert.True(t, e.IsTemporary(customerID))

	saved := &Customer{ID: 30}
	_, err = f.sm.Attach(saved)
	require.NoError(t, err)
	o2 := &Order{Customer: saved}
	e2, err := f.sm.Add(o2)
	require.NoError(t, err)

	assert.Equal(t, int64(30), o2.CustomerID)
	assert.False(t, e2.IsTemporary(customerID))

	orphan, err := f.sm.Add(&Order{})
	require.NoError(t, err)
	f.sm.Propagator().PropagateValue(orphan, customerID)
	assert.Equal(t, int64(0), orphan.ReadProperty(customerID))

	requireFault(t, ArgumentFault, func() { f.sm.Propagator().PropagateValue(nil, customerID) })
	requireFault(t, MetadataFault, func() { f.sm.Propagator().PropagateValue(orphan, prop(t, f.customer, "Name")) })
}

func TestPropagateValueConvertsKeyType(t *testing.T) {
	t.Parallel()

	m := NewModel()
	parents, err := m.RegisterShadow("Parent")
	require.NoError(t, err)
	parentID, err := parents.AddShadowProperty("Id", reflect.TypeFor[int32](), AsKey())
	require.NoError(t, err)
	children, err := m.RegisterShadow("Child")
	require.NoError(t, err)
	childParent, err := children.AddShadowProperty("ParentId", reflect.TypeFor[int64]())
	require.NoError(t, err)
	fk, err := m.AddForeignKey(children, []string{"ParentId"}, parents)
	require.NoError(t, err)
	sm := New(m, Config{})

	parent, err := sm.CreateEntry(parents)
	require.NoError(t, err)
	parent.WriteProperty(parentID, int32(12))
	child, err := sm.CreateEntry(children)
	require.NoError(t, err)
	require.NoError(t, child.SetPrincipal(fk, parent))

	assert.Equal(t, int64(12), child.ReadProperty(childParent))
}

// TestShadowOrderLifecycle walks a ShadowOrder through creation, linking,
// generation and a successful save.
func TestShadowOrderLifecycle(t *testing.T) {
	t.Parallel()

	f := newShadowFixture(t, Config{})
	customerKey := prop(t, f.customer, "Id")
	orderKey := prop(t, f.order, "Id")
	customerID := prop(t, f.order, "CustomerId")

	customer, err := f.sm.CreateEntry(f.customer)
	require.NoError(t, err)
	order, err := f.sm.CreateEntry(f.order)
	require.NoError(t, err)
	assert.Equal(t, Added, order.State())
	assert.Equal(t, int64(0), order.ReadProperty(orderKey))

	require.NoError(t, order.SetPrincipal(f.orderCustomer, customer))
	assert.Equal(t, int64(0), order.ReadProperty(customerID))

	customer.WriteProperty(customerKey, int64(42))
	f.sm.ValueGeneration().Generate(order)

	assert.Equal(t, int64(-1), order.ReadProperty(orderKey))
	assert.True(t, order.IsTemporary(orderKey))
	assert.Equal(t, int64(42), order.ReadProperty(customerID))
	assert.False(t, order.IsTemporary(customerID))

	var ops []string
	var inserted []string
	n, err := f.sm.SaveChanges(context.Background(), ExecutorFunc(func(_ context.Context, changes []*Change) error {
		for _, c := range changes {
			ops = append(ops, c.String())
			for _, p := range c.InsertProperties() {
				inserted = append(inserted, p.String())
			}
			for _, p := range c.StoreGeneratedProperties() {
				if err := c.SetStoreValue(p, int64(900)); err != nil {
					return err
				}
			}
		}
		return nil
	}))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"INSERT ShadowCustomer(42) [Added]", "INSERT ShadowOrder(-1) [Added]"}, ops)
	assert.Equal(t, []string{"ShadowCustomer.Id", "ShadowOrder.CustomerId", "ShadowOrder.Total"}, inserted)

	assert.Equal(t, Unchanged, order.State())
	assert.Equal(t, Unchanged, customer.State())
	assert.False(t, order.HasTemporaryValues())
	assert.Equal(t, int64(900), order.ReadProperty(orderKey))
	assert.Equal(t, int64(42), order.OriginalValue(customerID))
	assert.Equal(t, int64(900), order.OriginalValue(orderKey))
	found, ok := f.sm.Find(f.order, int64(900))
	require.True(t, ok)
	assert.Same(t, order, found)
}

func TestSaveChangesRejectsUnresolvedTemporaryValues(t *testing.T) {
	t.Parallel()

	f := newShadowFixture(t, Config{})
	customerKey := prop(t, f.customer, "Id")
	customerID := prop(t, f.order, "CustomerId")

	customer, err := f.sm.CreateEntry(f.customer)
	require.NoError(t, err)
	f.sm.ValueGeneration().Generate(customer)
	require.True(t, customer.IsTemporary(customerKey))
	order, err := f.sm.CreateEntry(f.order)
	require.NoError(t, err)
	require.NoError(t, order.SetPrincipal(f.orderCustomer, customer))
	require.True(t, order.IsTemporary(customerID))

	calls := 0
	n, err := f.sm.SaveChanges(context.Background(), ExecutorFunc(func(context.Context, []*Change) error {
		calls++
		return nil
	}))
	require.ErrorIs(t, err, ErrTemporaryValue)
	assert.Contains(t, err.Error(), "ShadowCustomer.Id")
	assert.Zero(t, n)
	assert.Zero(t, calls)
	assert.Equal(t, Added, customer.State())
	assert.True(t, customer.IsTemporary(customerKey))
	assert.True(t, order.IsTemporary(customerID))
}
