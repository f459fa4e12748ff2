package cmd

import (
	"fmt"

	"github.com/vmti/internal/vmsim"
	"github.com/vmti/pkg/vm"
)

// Demo heap shape: a registry class whose static array holds customers, each customer
// with a fixed number of orders and each order with an int array of line amounts.
const (
	ordersPerCustomer = 3
	linesPerOrder     = 4
)

// demoHeap is a populated runtime with one running thread.
type demoHeap struct {
	rt        *vmsim.Runtime
	main      vm.ThreadID
	customers int
}

// buildDemoHeap allocates roughly objects instances spread over the demo classes.
func buildDemoHeap(objects int) (*demoHeap, error) {
	if objects <= 0 {
		return nil, fmt.Errorf("objects must be positive, got %d", objects)
	}
	// each customer brings its name, orders array, orders and their line arrays
	perCustomer := 3 + 2*ordersPerCustomer
	customers := objects / perCustomer
	if customers == 0 {
		customers = 1
	}

	rt := vmsim.New()
	lines := rt.DefineArrayClass("[I", vm.TypeInt)
	order := rt.DefineClass(vmsim.ClassSpec{
		Name: "app/Order",
		Fields: []vm.Field{
			{Name: "id", Signature: "J", Type: vm.TypeLong},
			{Name: "customer", Signature: "Lapp/Customer;", Type: vm.TypeObject},
			{Name: "lines", Signature: "[I", Type: vm.TypeObject},
		},
	})
	orders := rt.DefineArrayClass("[Lapp/Order;", vm.TypeObject)
	customer := rt.DefineClass(vmsim.ClassSpec{
		Name: "app/Customer",
		Fields: []vm.Field{
			{Name: "name", Signature: "Ljava/lang/String;", Type: vm.TypeObject},
			{Name: "orders", Signature: "[Lapp/Order;", Type: vm.TypeObject},
			{Name: "active", Signature: "Z", Type: vm.TypeBoolean},
		},
	})
	customerArray := rt.DefineArrayClass("[Lapp/Customer;", vm.TypeObject)
	registry := rt.DefineClass(vmsim.ClassSpec{
		Name: "app/Registry",
		Fields: []vm.Field{
			{Name: "customers", Signature: "[Lapp/Customer;", Type: vm.TypeObject, Static: true},
			{Name: "generation", Signature: "I", Type: vm.TypeInt, Static: true},
		},
	})

	all := rt.NewArray(customerArray, customers)
	var firstOrder vm.ObjectID
	for i := 0; i < customers; i++ {
		c := rt.NewObject(customer)
		rt.SetField(c, "name", vm.RefValue(rt.NewString(fmt.Sprintf("customer-%d", i))))
		rt.SetField(c, "active", vm.BoolValue(i%2 == 0))

		list := rt.NewArray(orders, ordersPerCustomer)
		for j := 0; j < ordersPerCustomer; j++ {
			o := rt.NewObject(order)
			rt.SetField(o, "id", vm.LongValue(int64(i*ordersPerCustomer+j)))
			rt.SetField(o, "customer", vm.RefValue(c))

			amounts := rt.NewArray(lines, linesPerOrder)
			for k := 0; k < linesPerOrder; k++ {
				rt.SetElement(amounts, k, vm.IntValue(int32(100*(k+1))))
			}
			rt.SetField(o, "lines", vm.RefValue(amounts))
			rt.SetElement(list, j, vm.RefValue(o))
			if firstOrder == vm.Null {
				firstOrder = o
			}
		}
		rt.SetField(c, "orders", vm.RefValue(list))
		rt.SetElement(all, i, vm.RefValue(c))
	}
	rt.SetField(registry, "customers", vm.RefValue(all))
	rt.SetField(registry, "generation", vm.IntValue(1))

	// the registry mirror is reachable through a global handle, the array through the static
	rt.AddGlobalRoot(registry)
	rt.AddMonitor(all)

	mainClass := rt.DefineClass(vmsim.ClassSpec{Name: "app/Main"})
	run := rt.DefineMethod(mainClass, "run", "()V", []byte{0x2a, 0xb6, 0x00, 0x01, 0xb1}, 2)
	t := rt.StartThread("main")
	if _, err := rt.PushFrame(t, run, vm.RefValue(firstOrder), vm.IntValue(0)); err != nil {
		return nil, err
	}
	rt.AddLocalHandle(t, all)

	return &demoHeap{rt: rt, main: t, customers: customers}, nil
}
