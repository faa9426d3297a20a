// Package impact computes the import impact preview: how many activities
// an import run will create, update, or skip under the current rules.
package impact

import (
	"github.com/shopspring/decimal"

	"iati-import-service/internal/models"
)

// Compute derives the impact of importing the selected activities under the
// given rules. It is a pure computation and must be re-run whenever the
// selection or the rules change.
//
// Unmatched activities always count toward toCreate. Matched activities
// branch on the matched-activities strategy. Transaction counts and volume
// cover the whole selection regardless of match state.
func Compute(activities []*models.ParsedActivity, selection *models.SelectionSet, rules models.ImportRules) models.ImportImpact {
	result := models.ImportImpact{TransactionVolume: decimal.Zero}

	for _, a := range activities {
		if selection == nil || !selection.Has(a.IATIIdentifier) {
			continue
		}
		result.TotalActivities++
		result.TotalTransactions += len(a.Transactions)
		result.TransactionVolume = result.TransactionVolume.Add(a.TransactionVolume())

		if !a.Matched {
			result.ToCreate++
			continue
		}

		switch rules.MatchedActivities {
		case models.SkipExisting:
			result.ToSkip++
		case models.CreateNewVersion:
			result.ToCreate++
		default:
			result.ToUpdate++
		}
	}

	return result
}
