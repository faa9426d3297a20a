package server

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"iati-import-service/internal/filter"
	"iati-import-service/internal/models"
)

// criteriaFromQuery builds filter criteria from preview query parameters.
// Absent parameters leave their filter disabled; unknown enum values are
// rejected rather than coerced to "all".
func criteriaFromQuery(c *gin.Context) (filter.Criteria, error) {
	criteria := filter.Criteria{Country: c.Query("country")}

	var err error
	criteria.Validation, err = validationQuery(c)
	if err != nil {
		return criteria, err
	}
	criteria.CountryScope, err = countryScopeQuery(c)
	if err != nil {
		return criteria, err
	}
	criteria.Transactions, err = presenceQuery(c, "transactions")
	if err != nil {
		return criteria, err
	}
	criteria.Budgets, err = presenceQuery(c, "budgets")
	if err != nil {
		return criteria, err
	}
	criteria.PlannedDisbursements, err = presenceQuery(c, "planned_disbursements")
	if err != nil {
		return criteria, err
	}

	criteria.Hierarchy, err = intQuery(c, "hierarchy")
	if err != nil {
		return criteria, err
	}

	criteria.DateStart, err = dateQuery(c, "date_start")
	if err != nil {
		return criteria, err
	}
	criteria.DateEnd, err = dateQuery(c, "date_end")
	if err != nil {
		return criteria, err
	}
	return criteria, nil
}

func validationQuery(c *gin.Context) (filter.ValidationFilter, error) {
	raw := c.Query("validation")
	switch v := filter.ValidationFilter(raw); v {
	case "", filter.ValidationAll, filter.ValidationValid, filter.ValidationWarnings, filter.ValidationErrors:
		return v, nil
	}
	return "", fmt.Errorf("validation must be all, valid, warnings or errors: %q", raw)
}

func countryScopeQuery(c *gin.Context) (filter.CountryScope, error) {
	raw := c.Query("country_scope")
	switch v := filter.CountryScope(raw); v {
	case "", filter.ScopeAll, filter.ScopeFull, filter.ScopePartial:
		return v, nil
	}
	return "", fmt.Errorf("country_scope must be all, full or partial: %q", raw)
}

func presenceQuery(c *gin.Context, name string) (filter.PresenceFilter, error) {
	raw := c.Query(name)
	switch v := filter.PresenceFilter(raw); v {
	case "", filter.PresenceAll, filter.PresenceHas, filter.PresenceNone:
		return v, nil
	}
	return "", fmt.Errorf("%s must be all, has or none: %q", name, raw)
}

func intQuery(c *gin.Context, name string) (*int, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be an integer: %q", name, raw)
	}
	return &v, nil
}

func dateQuery(c *gin.Context, name string) (*time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	t, err := models.ParseISODate(raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be an ISO date: %q", name, raw)
	}
	return &t, nil
}
