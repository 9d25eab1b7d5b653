package brewery

import (
	"fmt"

	"github.com/joulia/joulia-live/internal/apierr"
	"github.com/joulia/joulia-live/internal/auth"
)

// AuthorizeBrewhouse checks that p may watch or control the brewhouse. The
// principal must be a member of the brewing company that owns the
// brewhouse's brewery; a brewhouse without a brewery or company is not
// accessible to anyone. Controller principals are further restricted to
// their own brewhouse.
func (c *Catalog) AuthorizeBrewhouse(p auth.Principal, brewhouse int64) error {
	if !p.Authenticated() {
		return apierr.ErrUnauthenticated
	}
	if _, err := c.Brewhouse(brewhouse); err != nil {
		return err
	}
	company, ok := c.CompanyOf(brewhouse)
	if !ok || !p.MemberOf(company) {
		return fmt.Errorf("%s is not a member of the brewing company owning brewhouse %d: %w",
			p, brewhouse, apierr.ErrForbidden)
	}
	if p.IsController() && p.Brewhouse != brewhouse {
		return fmt.Errorf("controller for brewhouse %d cannot access brewhouse %d: %w",
			p.Brewhouse, brewhouse, apierr.ErrForbidden)
	}
	return nil
}

// AuthorizeStream resolves a recipe instance and sensor pair and checks that
// p may read or write its measurements.
func (c *Catalog) AuthorizeStream(p auth.Principal, recipeInstance, sensor int64) (RecipeInstance, error) {
	if !p.Authenticated() {
		return RecipeInstance{}, apierr.ErrUnauthenticated
	}
	ri, err := c.RecipeInstance(recipeInstance)
	if err != nil {
		return RecipeInstance{}, err
	}
	if _, err := c.Sensor(sensor); err != nil {
		return RecipeInstance{}, err
	}
	if err := c.AuthorizeBrewhouse(p, ri.Brewhouse); err != nil {
		return RecipeInstance{}, err
	}
	return ri, nil
}
