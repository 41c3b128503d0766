package taxonomy

import "rcm-reconciliation-backend/internal/models"

// Default is the built-in CARC table used when no reference file is configured.
func Default() *Taxonomy {
	return New(defaultEntries)
}

var defaultEntries = []Entry{
	// payment adjustments, not denials
	{Code: "1", Category: models.CategoryPatientResponsibility},
	{Code: "2", Category: models.CategoryPatientResponsibility},
	{Code: "3", Category: models.CategoryPatientResponsibility},
	{Code: "45", Category: models.CategoryContractualAdjustment},
	{Code: "94", Category: models.CategoryContractualAdjustment},
	{Code: "253", Category: models.CategoryContractualAdjustment},

	{Code: "15", Category: models.CategoryMissingAuthorization, Denial: true},
	{Code: "62", Category: models.CategoryMissingAuthorization, Denial: true},
	{Code: "197", Category: models.CategoryMissingAuthorization, Denial: true},
	{Code: "198", Category: models.CategoryMissingAuthorization, Denial: true},

	{Code: "16", Category: models.CategoryMissingInformation, Denial: true},
	{Code: "252", Category: models.CategoryMissingInformation, Denial: true},
	{Code: "A1", Category: models.CategoryMissingInformation, Denial: true},

	{Code: "50", Category: models.CategoryMedicalNecessity, Denial: true},
	{Code: "55", Category: models.CategoryMedicalNecessity, Denial: true},
	{Code: "56", Category: models.CategoryMedicalNecessity, Denial: true},

	{Code: "26", Category: models.CategoryEligibility, Denial: true},
	{Code: "27", Category: models.CategoryEligibility, Denial: true},
	{Code: "31", Category: models.CategoryEligibility, Denial: true},
	{Code: "177", Category: models.CategoryEligibility, Denial: true},

	{Code: "29", Category: models.CategoryTimelyFiling, Denial: true},

	{Code: "18", Category: models.CategoryDuplicateClaim, Denial: true},

	{Code: "96", Category: models.CategoryNonCoveredService, Denial: true},
	{Code: "204", Category: models.CategoryNonCoveredService, Denial: true},
	{Code: "B7", Category: models.CategoryNonCoveredService, Denial: true},

	{Code: "22", Category: models.CategoryCoordinationOfBenefits, Denial: true},
	{Code: "23", Category: models.CategoryCoordinationOfBenefits, Denial: true},
	{Code: "109", Category: models.CategoryCoordinationOfBenefits, Denial: true},
}
