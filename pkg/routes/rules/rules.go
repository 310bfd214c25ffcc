package rules

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/pkg/errs"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/rules"
)

// Register registers rule routes
func Register(g *echo.Group) {
	r := g.Group("/rules")
	r.GET("", List)
	r.GET("/:id", Get)
	r.POST("", Create)
	r.PUT("/:id", Update)
	r.DELETE("/:id", Delete)
}

// List lists rules, optionally narrowed by table and active flag
func List(c echo.Context) error {
	filter := models.RuleFilter{}
	if tables := c.QueryParam("table"); tables != "" {
		filter.Tables = strings.Split(tables, ",")
	}
	if active := c.QueryParam("active"); active != "" {
		v, err := strconv.ParseBool(active)
		if err != nil {
			return errs.Validation("active must be a boolean")
		}
		filter.ActiveOnly = v
	}

	ctx, svc, err := ectoinject.GetContext[*rules.Service](c.Request().Context())
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	list, err := svc.List(ctx, filter)
	if err != nil {
		return err
	}
	if list == nil {
		list = []models.Rule{}
	}
	return c.JSON(http.StatusOK, list)
}

func Get(c echo.Context) error {
	ctx, svc, err := ectoinject.GetContext[*rules.Service](c.Request().Context())
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	rule, err := svc.Get(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rule)
}

func Create(c echo.Context) error {
	var rule models.Rule
	if err := c.Bind(&rule); err != nil {
		return errs.Validation("invalid request body")
	}

	ctx, svc, err := ectoinject.GetContext[*rules.Service](c.Request().Context())
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	created, err := svc.Create(ctx, &rule)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, created)
}

func Update(c echo.Context) error {
	var req models.UpdateRuleRequest
	if err := c.Bind(&req); err != nil {
		return errs.Validation("invalid request body")
	}

	ctx, svc, err := ectoinject.GetContext[*rules.Service](c.Request().Context())
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	updated, err := svc.Update(ctx, c.Param("id"), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, updated)
}

// Delete deactivates a rule
func Delete(c echo.Context) error {
	ctx, svc, err := ectoinject.GetContext[*rules.Service](c.Request().Context())
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	if err := svc.Deactivate(ctx, c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
