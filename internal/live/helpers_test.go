package live

import (
	"context"
	"testing"
	"time"

	"github.com/joulia/joulia-live/internal/auth"
	"github.com/joulia/joulia-live/internal/brewery"
	"github.com/joulia/joulia-live/internal/store"
	"github.com/joulia/joulia-live/internal/telemetry"
)

// Fleet used by every test: brewhouse 7 belongs to company 1, brewhouse 8
// sits at a brewery with no company, recipe instance 41 on brewhouse 7 has
// already ended.
func testFleet() brewery.CatalogFile {
	return brewery.CatalogFile{
		Companies: []brewery.Company{{ID: 1, Name: "Joulia Brewing"}},
		Breweries: []brewery.Brewery{
			{ID: 1, Name: "Main Street", Company: 1},
			{ID: 2, Name: "Garage"},
		},
		Brewhouses: []brewery.Brewhouse{
			{ID: 7, Name: "Ten Barrel", Brewery: 1},
			{ID: 8, Name: "Pilot", Brewery: 2},
		},
		Sensors: []brewery.Sensor{
			{ID: 5, Name: "mash_temperature", Brewhouse: 7},
			{ID: 6, Name: "boil_temperature", Brewhouse: 7},
		},
		RecipeInstances: []brewery.RecipeInstance{{ID: 41, Brewhouse: 7}},
	}
}

func testDirectory() *auth.Directory {
	return auth.NewDirectory(
		[]auth.UserRecord{
			{ID: 1, Username: "brewer", Companies: []int64{1}},
			{ID: 2, Username: "brewhouse-7", Companies: []int64{1}},
			{ID: 3, Username: "outsider", Companies: []int64{99}},
		},
		[]auth.TokenRecord{
			{Key: "brewer-token", User: 1},
			{Key: "controller-token", User: 2, Brewhouse: 7},
			{Key: "outsider-token", User: 3},
		},
		[]auth.SessionRecord{{Key: "brewer-session", User: 1}},
	)
}

func newTestService(t *testing.T, opts Options) *Service {
	t.Helper()
	catalog, err := brewery.NewCatalog(testFleet())
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	bridge := auth.NewBridge(testDirectory(), auth.NewTicketStore(), "")
	svc, err := NewService(catalog, bridge, store.Options{Driver: store.DriverMemory}, opts)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(func() { svc.Close() })
	return svc
}

func principal(t *testing.T, svc *Service, token string) auth.Principal {
	t.Helper()
	return svc.Bridge().Resolve(auth.Credentials{Authorization: "Token " + token})
}

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func ptr[T any](v T) *T { return &v }

var mashKey = telemetry.StreamKey{RecipeInstance: 41, Sensor: 5}

func record(t *testing.T, svc *Service, at time.Time, v float64) telemetry.Measurement {
	t.Helper()
	m, err := svc.Record(context.Background(), principal(t, svc, "brewer-token"), "", telemetry.Measurement{
		RecipeInstance: mashKey.RecipeInstance,
		Sensor:         mashKey.Sensor,
		Time:           at,
		Value:          ptr(v),
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	return m
}
