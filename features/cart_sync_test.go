package features

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/cucumber/godog"
	"github.com/fjod/go_cart/storefront-cart/internal/auth"
	"github.com/fjod/go_cart/storefront-cart/internal/cartsync"
	"github.com/fjod/go_cart/storefront-cart/internal/clock"
	"github.com/fjod/go_cart/storefront-cart/internal/domain"
	"github.com/fjod/go_cart/storefront-cart/internal/persistence"
	"github.com/fjod/go_cart/storefront-cart/internal/remote"
	"github.com/fjod/go_cart/storefront-cart/internal/remote/remotetest"
	"github.com/fjod/go_cart/storefront-cart/internal/session"
	"github.com/fjod/go_cart/storefront-cart/internal/store"
	"github.com/shopspring/decimal"
)

const debounce = 3 * time.Second

type product struct {
	name  string
	price decimal.Decimal
}

type cartTestContext struct {
	backend *remotetest.Server
	catalog map[string]product
	slot    *persistence.MemorySlot
	signal  *auth.Signal
	store   *store.CartStore
	coord   *cartsync.Coordinator
	clock   *clock.FakeClock
	session *session.Session
}

func (c *cartTestContext) reset() {
	c.teardown()
	c.backend = remotetest.NewServer()
	c.backend.RequireToken("token-1")
	c.catalog = make(map[string]product)
	c.slot = persistence.NewMemorySlot()
}

func (c *cartTestContext) teardown() {
	if c.session != nil {
		c.session.Teardown()
		c.session = nil
	}
	if c.backend != nil {
		c.backend.Close()
		c.backend = nil
	}
}

// openPage builds a fresh session over the same device slot and backend,
// the way a page load does.
func (c *cartTestContext) openPage() error {
	if c.session != nil {
		c.session.Teardown()
	}
	c.signal = auth.NewSignal()
	client, err := remote.NewClient(remote.Config{BaseURL: c.backend.BaseURL()}, c.signal, nil)
	if err != nil {
		return err
	}
	c.store = store.New()
	c.clock = clock.Fake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	c.coord = cartsync.NewCoordinator(client, c.store, cartsync.Config{Debounce: debounce}, c.clock, nil)
	c.session = session.New(c.store, persistence.NewAdapter(c.slot, nil), c.coord, c.signal, session.Config{}, nil)
	return c.session.Init(context.Background())
}

func (c *cartTestContext) theBackendSells(id, name, price string) error {
	p, err := decimal.NewFromString(price)
	if err != nil {
		return err
	}
	c.catalog[id] = product{name: name, price: p}
	c.backend.AddProduct(id, name, price)
	return nil
}

func (c *cartTestContext) theBackendCartHolds(qty int, id string) error {
	c.backend.Seed(id, qty)
	return nil
}

func (c *cartTestContext) aGuestShopper() error {
	return c.openPage()
}

func (c *cartTestContext) aSignedInShopper() error {
	if err := c.openPage(); err != nil {
		return err
	}
	if err := c.theShopperSignsIn(); err != nil {
		return err
	}
	c.backend.ResetCalls()
	return nil
}

func (c *cartTestContext) theShopperAdds(qty int, id string) error {
	p, ok := c.catalog[id]
	if !ok {
		return fmt.Errorf("product %q is not in the catalog", id)
	}
	c.session.AddItem(id, p.name, p.price, qty)
	return nil
}

func (c *cartTestContext) theShopperSets(id string, qty int) error {
	c.session.SetQuantity(id, qty)
	return nil
}

func (c *cartTestContext) theShopperRemoves(id string) error {
	c.session.Remove(id)
	return nil
}

func (c *cartTestContext) thePageIsReloaded() error {
	return c.openPage()
}

func (c *cartTestContext) theShopperSignsIn() error {
	c.session.Login("user-1", "token-1")
	if !c.session.Authenticated() {
		return fmt.Errorf("shopper is not signed in")
	}
	return nil
}

func (c *cartTestContext) theShopperSignsOut() error {
	c.session.Logout()
	return nil
}

func (c *cartTestContext) secondsPass(n int) error {
	c.clock.Advance(time.Duration(n) * time.Second)
	deadline := time.Now().Add(2 * time.Second)
	for c.coord.State() == domain.SyncStatePushing {
		if time.Now().After(deadline) {
			return fmt.Errorf("push did not finish")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return nil
}

func (c *cartTestContext) theCartHolds(qty int, id string) error {
	line, ok := c.store.Line(id)
	if !ok {
		return fmt.Errorf("cart has no line for %q", id)
	}
	if line.Quantity != qty {
		return fmt.Errorf("expected %d of %q, got %d", qty, id, line.Quantity)
	}
	return nil
}

func (c *cartTestContext) theCartDoesNotHold(id string) error {
	if _, ok := c.store.Line(id); ok {
		return fmt.Errorf("cart still holds %q", id)
	}
	return nil
}

func (c *cartTestContext) theCartContains(count int, total string) error {
	want, err := decimal.NewFromString(total)
	if err != nil {
		return err
	}
	snap := c.session.Snapshot()
	if snap.ItemCount != count {
		return fmt.Errorf("expected %d items, got %d", count, snap.ItemCount)
	}
	if !snap.Subtotal.Equal(want) {
		return fmt.Errorf("expected subtotal %s, got %s", want, snap.Subtotal)
	}
	return nil
}

func (c *cartTestContext) theBackendReceived(n int, method string) error {
	if got := c.backend.CallsTo(method); got != n {
		return fmt.Errorf("expected %d %s requests, got %d", n, method, got)
	}
	return nil
}

func (c *cartTestContext) theBackendCartHas(qty int, id string) error {
	if got := c.backend.Quantities()[id]; got != qty {
		return fmt.Errorf("expected backend to hold %d of %q, got %d", qty, id, got)
	}
	return nil
}

func (c *cartTestContext) theBackendCartDoesNotHave(id string) error {
	if got, ok := c.backend.Quantities()[id]; ok {
		return fmt.Errorf("backend still holds %d of %q", got, id)
	}
	return nil
}

func InitializeScenario(ctx *godog.ScenarioContext) {
	tc := &cartTestContext{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		tc.reset()
		return ctx, nil
	})
	ctx.After(func(ctx context.Context, sc *godog.Scenario, err error) (context.Context, error) {
		tc.teardown()
		return ctx, nil
	})

	// Given steps
	ctx.Step(`^the backend sells "([^"]*)" as "([^"]*)" for (\S+)$`, tc.theBackendSells)
	ctx.Step(`^the backend cart holds (\d+) of "([^"]*)"$`, tc.theBackendCartHolds)
	ctx.Step(`^a guest shopper$`, tc.aGuestShopper)
	ctx.Step(`^a signed-in shopper$`, tc.aSignedInShopper)

	// When steps
	ctx.Step(`^the shopper adds (-?\d+) of "([^"]*)"$`, tc.theShopperAdds)
	ctx.Step(`^the shopper sets "([^"]*)" to (\d+)$`, tc.theShopperSets)
	ctx.Step(`^the shopper removes "([^"]*)"$`, tc.theShopperRemoves)
	ctx.Step(`^the page is reloaded$`, tc.thePageIsReloaded)
	ctx.Step(`^the shopper signs in$`, tc.theShopperSignsIn)
	ctx.Step(`^the shopper signs out$`, tc.theShopperSignsOut)
	ctx.Step(`^(\d+) seconds? pass(?:es)?$`, tc.secondsPass)

	// Then steps
	ctx.Step(`^the cart holds (\d+) of "([^"]*)"$`, tc.theCartHolds)
	ctx.Step(`^the cart does not hold "([^"]*)"$`, tc.theCartDoesNotHold)
	ctx.Step(`^the cart contains (\d+) items totalling (\S+)$`, tc.theCartContains)
	ctx.Step(`^the backend received (\d+) (GET|POST|PATCH|DELETE) requests?$`, tc.theBackendReceived)
	ctx.Step(`^the backend cart has (\d+) of "([^"]*)"$`, tc.theBackendCartHas)
	ctx.Step(`^the backend cart does not have "([^"]*)"$`, tc.theBackendCartDoesNotHave)
}

func TestFeatures(t *testing.T) {
	if _, err := os.Stat("cart_sync.feature"); err != nil {
		t.Skipf("feature file not found: %v", err)
	}
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"cart_sync.feature"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
