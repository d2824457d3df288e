package phi

import "strings"

// Category classifies the kind of identifier a pattern detects.
type Category string

const (
	CategoryName          Category = "name"
	CategoryClinician     Category = "clinician"
	CategoryDate          Category = "date"
	CategoryAge           Category = "age"
	CategoryPhone         Category = "phone"
	CategoryFax           Category = "fax"
	CategoryEmail         Category = "email"
	CategorySSN           Category = "ssn"
	CategoryMedicalRecord Category = "medical_record"
	CategoryHealthPlan    Category = "health_plan"
	CategoryAccount       Category = "account"
	CategoryLicense       Category = "license"
	CategoryVehicle       Category = "vehicle"
	CategoryDevice        Category = "device"
	CategoryURL           Category = "url"
	CategoryIPAddress     Category = "ip_address"
	CategoryBiometric     Category = "biometric"
	CategoryPhoto         Category = "photo"
	CategoryVAFileNumber  Category = "va_file_number"
	CategoryAddress       Category = "address"
	CategoryGeographic    Category = "geographic"
	CategoryFacility      Category = "facility"

	// CategoryUnknown is never produced by a pattern. The redaction auditor
	// uses it when a change cannot be attributed to a single category.
	CategoryUnknown Category = "unknown"
)

// safeHarbor lists every category the pattern table must cover, in
// reporting order.
var safeHarbor = []Category{
	CategoryName,
	CategoryClinician,
	CategoryDate,
	CategoryAge,
	CategoryPhone,
	CategoryFax,
	CategoryEmail,
	CategorySSN,
	CategoryMedicalRecord,
	CategoryHealthPlan,
	CategoryAccount,
	CategoryLicense,
	CategoryVehicle,
	CategoryDevice,
	CategoryURL,
	CategoryIPAddress,
	CategoryBiometric,
	CategoryPhoto,
	CategoryVAFileNumber,
	CategoryAddress,
	CategoryGeographic,
	CategoryFacility,
}

// SafeHarborCategories returns the categories a compiled table is required
// to cover. The returned slice is a copy.
func SafeHarborCategories() []Category {
	return append([]Category(nil), safeHarbor...)
}

// IsValidCategory reports whether c is a detectable category.
func IsValidCategory(c Category) bool {
	for _, sh := range safeHarbor {
		if sh == c {
			return true
		}
	}
	return false
}

// Label returns the upper-case form used inside labelled placeholders,
// e.g. "MEDICAL_RECORD".
func (c Category) Label() string {
	return strings.ToUpper(string(c))
}

// ParseLabel maps a placeholder label back to its category. Unknown labels
// return CategoryUnknown and false.
func ParseLabel(label string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(label)))
	if IsValidCategory(c) {
		return c, true
	}
	return CategoryUnknown, false
}
