package identity

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/pkg/errs"
	"github.com/Ramsey-B/clover/pkg/identity"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/store"
)

// Register registers alias resolution, canonical contact and merge audit routes
func Register(g *echo.Group) {
	g.GET("/aliases/:table/:id", ResolveAlias)
	g.GET("/canonical-contacts/:id", GetContact)
	g.GET("/merges", ListMerges)
	g.GET("/merges/:id", GetMerge)
}

// ResolveAlias follows a record through its merges to its canonical identity
func ResolveAlias(c echo.Context) error {
	ctx, resolver, err := ectoinject.GetContext[*identity.Resolver](c.Request().Context())
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	ref := models.EntityRef{Table: c.Param("table"), ID: c.Param("id")}
	resolution, err := resolver.Resolve(ctx, ref)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resolution)
}

func GetContact(c echo.Context) error {
	ctx, resolver, err := ectoinject.GetContext[*identity.Resolver](c.Request().Context())
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	contact, err := resolver.Contact(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, contact)
}

// ListMerges lists the audit records that touched one entity
func ListMerges(c echo.Context) error {
	table, id := c.QueryParam("entityTable"), c.QueryParam("entityId")
	if table == "" || id == "" {
		return errs.Validation("entityTable and entityId are required")
	}

	ctx, audits, err := ectoinject.GetContext[store.AuditStore](c.Request().Context())
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	records, err := audits.ListByEntity(ctx, models.EntityRef{Table: table, ID: id})
	if err != nil {
		return err
	}
	if records == nil {
		records = []models.MergedEntity{}
	}
	return c.JSON(http.StatusOK, records)
}

func GetMerge(c echo.Context) error {
	ctx, audits, err := ectoinject.GetContext[store.AuditStore](c.Request().Context())
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	record, err := audits.Get(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, record)
}
