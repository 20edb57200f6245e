package gotrack

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type Customer struct {
	ID   int64  `track:"id,key,generated,store"`
	Name string `track:"name"`
}

type Order struct {
	ID         int64   `track:"id,key,generated,store"`
	CustomerID int64   `track:"customer_id"`
	Status     string  `track:"status"`
	Note       *string `track:"note"`
	Version    int     `track:"version,token"`

	Customer *Customer `track:"-"`
}

type fixture struct {
	model         *Model
	customer      *EntityType
	order         *EntityType
	orderCustomer *ForeignKey
	sm            *StateManager
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	m := NewModel()
	customers, err := m.Register(Customer{})
	require.NoError(t, err)
	orders, err := m.Register(Order{})
	require.NoError(t, err)
	fk, err := m.AddForeignKey(orders, []string{"CustomerID"}, customers, WithNavigation("Customer"))
	require.NoError(t, err)

	if cfg.Logger == nil {
		cfg.Logger = zaptest.NewLogger(t)
	}
	return &fixture{model: m, customer: customers, order: orders, orderCustomer: fk, sm: New(m, cfg)}
}

type shadowFixture struct {
	model         *Model
	customer      *EntityType
	order         *EntityType
	orderCustomer *ForeignKey
	sm            *StateManager
}

// newShadowFixture models ShadowOrder(Id, CustomerId, Total) referencing
// ShadowCustomer(Id) with no backing structs.
func newShadowFixture(t *testing.T, cfg Config) *shadowFixture {
	t.Helper()

	m := NewModel()
	customers, err := m.RegisterShadow("ShadowCustomer")
	require.NoError(t, err)
	_, err = customers.AddShadowProperty("Id", reflect.TypeFor[int64](), AsKey(), GeneratedOnAdd())
	require.NoError(t, err)

	orders, err := m.RegisterShadow("ShadowOrder")
	require.NoError(t, err)
	_, err = orders.AddShadowProperty("Id", reflect.TypeFor[int64](), AsKey(), GeneratedOnAdd(), StoreGenerated(), WithSentinel(int64(0)))
	require.NoError(t, err)
	_, err = orders.AddShadowProperty("CustomerId", reflect.TypeFor[int64]())
	require.NoError(t, err)
	_, err = orders.AddShadowProperty("Total", reflect.TypeFor[float64]())
	require.NoError(t, err)
	fk, err := m.AddForeignKey(orders, []string{"CustomerId"}, customers)
	require.NoError(t, err)

	if cfg.Logger == nil {
		cfg.Logger = zaptest.NewLogger(t)
	}
	return &shadowFixture{model: m, customer: customers, order: orders, orderCustomer: fk, sm: New(m, cfg)}
}

func prop(t *testing.T, et *EntityType, name string) *Property {
	t.Helper()
	p, ok := et.Property(name)
	require.True(t, ok, "property %s.%s", et.Name(), name)
	return p
}

func requireFault(t *testing.T, kind FaultKind, fn func()) {
	t.Helper()
	defer func() {
		t.Helper()
		r := recover()
		require.NotNil(t, r, "expected a %s fault", kind)
		f, ok := r.(*Fault)
		require.True(t, ok, "panic value %v is not a *Fault", r)
		assert.Equal(t, kind, f.Kind, f.Error())
	}()
	fn()
}

func ptr[T any](v T) *T { return &v }
