package deduplication

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	clovercontext "github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/errs"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/review"
)

// Scanner runs a candidate scan
type Scanner interface {
	Scan(ctx context.Context, opts models.ScanOptions) (*models.ScanReport, error)
}

var validate = validator.New()

// Register registers deduplication routes
func Register(g *echo.Group) {
	g.GET("/deduplication", List)
	g.GET("/deduplication/:id", Get)
	g.POST("/deduplication", Action)
}

// List lists candidates with previews
func List(c echo.Context) error {
	ctx := c.Request().Context()

	filter, includeStats, err := parseFilter(c)
	if err != nil {
		return err
	}

	ctx, svc, err := ectoinject.GetContext[*review.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	page, err := svc.List(ctx, filter, includeStats)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, page)
}

func Get(c echo.Context) error {
	ctx, svc, err := ectoinject.GetContext[*review.Service](c.Request().Context())
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	view, err := svc.Get(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, view)
}

func parseFilter(c echo.Context) (models.CandidateFilter, bool, error) {
	filter := models.CandidateFilter{
		SourceTable: c.QueryParam("sourceTable"),
		TargetTable: c.QueryParam("targetTable"),
		RuleID:      c.QueryParam("ruleId"),
	}

	if status := c.QueryParam("status"); status != "" {
		for _, s := range strings.Split(status, ",") {
			filter.Statuses = append(filter.Statuses, models.CandidateStatus(strings.TrimSpace(s)))
		}
	}

	var err error
	if filter.MinConfidence, err = floatParam(c, "minConfidence"); err != nil {
		return filter, false, err
	}
	if filter.MaxConfidence, err = floatParam(c, "maxConfidence"); err != nil {
		return filter, false, err
	}
	if filter.Limit, err = intParam(c, "limit"); err != nil {
		return filter, false, err
	}
	if filter.Offset, err = intParam(c, "offset"); err != nil {
		return filter, false, err
	}

	if table, id := c.QueryParam("entityTable"), c.QueryParam("entityId"); table != "" || id != "" {
		if table == "" || id == "" {
			return filter, false, errs.Validation("entityTable and entityId must be given together")
		}
		filter.Entity = &models.EntityRef{Table: table, ID: id}
	}

	includeStats := false
	if raw := c.QueryParam("includeStats"); raw != "" {
		includeStats, err = strconv.ParseBool(raw)
		if err != nil {
			return filter, false, errs.Validation("includeStats must be a boolean")
		}
	}
	return filter, includeStats, nil
}

func floatParam(c echo.Context, name string) (*float64, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, errs.Validation("%s must be a number", name)
	}
	return &v, nil
}

func intParam(c echo.Context, name string) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errs.Validation("%s must be an integer", name)
	}
	return v, nil
}

// ActionRequest is the body of POST /deduplication. Which fields apply
// depends on Action.
type ActionRequest struct {
	Action         string                 `json:"action" validate:"required,oneof=merge confirm reject defer bulk_update scan"`
	CandidateID    string                 `json:"candidateId"`
	CanonicalID    string                 `json:"canonicalId"`
	Notes          *string                `json:"notes,omitempty"`
	FieldOverrides map[string]any         `json:"fieldOverrides,omitempty"`
	CandidateIDs   []string               `json:"candidateIds,omitempty"`
	NewStatus      models.CandidateStatus `json:"newStatus,omitempty"`
	Tables         []string               `json:"tables,omitempty"`
	RuleIDs        []string               `json:"ruleIds,omitempty"`
	MaxResults     int                    `json:"maxResults,omitempty" validate:"gte=0"`
}

// Action dispatches a reviewer or operator action
func Action(c echo.Context) error {
	ctx := c.Request().Context()

	var req ActionRequest
	if err := c.Bind(&req); err != nil {
		return errs.Validation("invalid request body")
	}
	if err := validate.Struct(&req); err != nil {
		return errs.Wrap(errs.KindValidation, err, "invalid action request")
	}

	if req.Action == "scan" {
		ctx, scanner, err := ectoinject.GetContext[Scanner](ctx)
		if err != nil {
			return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
		}
		report, err := scanner.Scan(ctx, models.ScanOptions{
			Tables:     req.Tables,
			RuleIDs:    req.RuleIDs,
			MaxResults: req.MaxResults,
		})
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, report)
	}

	ctx, svc, err := ectoinject.GetContext[*review.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	actor := clovercontext.UserIDPtr(ctx)
	decision := review.Decision{Notes: req.Notes, ResolvedBy: actor}

	switch req.Action {
	case "merge":
		if req.CandidateID == "" {
			return errs.Validation("candidateId is required")
		}
		result, err := svc.Merge(ctx, req.CandidateID, req.CanonicalID, models.MergeOptions{
			Notes:          req.Notes,
			FieldOverrides: req.FieldOverrides,
			PerformedBy:    actor,
		})
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, result)

	case "confirm", "reject", "defer":
		if req.CandidateID == "" {
			return errs.Validation("candidateId is required")
		}
		var (
			updated *models.Candidate
			err     error
		)
		switch req.Action {
		case "confirm":
			updated, err = svc.Confirm(ctx, req.CandidateID, decision)
		case "reject":
			updated, err = svc.Reject(ctx, req.CandidateID, decision)
		default:
			updated, err = svc.Defer(ctx, req.CandidateID, decision)
		}
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, updated)

	default: // bulk_update
		result, err := svc.BulkUpdate(ctx, req.CandidateIDs, req.NewStatus, decision)
		if err != nil {
			return err
		}
		status := http.StatusOK
		if len(result.Failed) > 0 {
			status = errs.StatusCode(errs.KindPartialFailure)
			ctx, logger, _ := ectoinject.GetContext[ectologger.Logger](ctx)
			if logger != nil {
				logger.WithContext(ctx).WithFields(map[string]any{
					"requested":  len(req.CandidateIDs),
					"failed":     len(result.Failed),
					"new_status": req.NewStatus,
				}).Warn("Bulk update partially failed")
			}
		}
		return c.JSON(status, result)
	}
}
