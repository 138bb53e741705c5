package schema

import "github.com/kilupskalvis/regsync/internal/models"

const (
	CompanyIndexName   = "company_index"
	CompanyDetailsName = "company_details"

	// ColumnCompanyNumber is the natural identifier shared by both targets.
	ColumnCompanyNumber = "company_number"
	ColumnLinksSelf     = "links_self"
	ColumnCompanyStatus = "company_status"
)

// Search result fields.
var (
	idxCompanyNumber  = Field{Column: ColumnCompanyNumber, Path: "company_number"}
	idxTitle          = Field{Column: "title", Path: "title"}
	idxKind           = Field{Column: "kind", Path: "kind"}
	idxCompanyStatus  = Field{Column: ColumnCompanyStatus, Path: "company_status"}
	idxCompanyType    = Field{Column: "company_type", Path: "company_type"}
	idxSnippet        = Field{Column: "snippet", Path: "snippet"}
	idxAddressSnippet = Field{Column: "address_snippet", Path: "address_snippet"}
	idxAddressLine1   = Field{Column: "address_line_1", Path: "address_line_1", Parent: "address"}
	idxLocality       = Field{Column: "address_locality", Path: "locality", Parent: "address"}
	idxCountry        = Field{Column: "address_country", Path: "country", Parent: "address"}
	idxPostalCode     = Field{Column: "address_postal_code", Path: "postal_code", Parent: "address"}
	idxLinksSelf      = Field{Column: ColumnLinksSelf, Path: "self", Parent: "links"}
	idxCreated        = Field{Column: "date_of_creation", Path: "date_of_creation", Kind: Date}
	idxCeased         = Field{Column: "date_of_cessation", Path: "date_of_cessation", Kind: Date}
	idxRank           = Field{Column: "rank", Path: "rank", Kind: Int}
)

// CompanyIndex holds lightly normalized search results, one row per sweep
// per company unless the signature is unchanged.
var CompanyIndex = &Target{
	Name:       CompanyIndexName,
	Table:      CompanyIndexName,
	Identifier: ColumnCompanyNumber,
	Fields: []Field{
		idxCompanyNumber, idxTitle, idxKind, idxCompanyStatus, idxCompanyType,
		idxSnippet, idxAddressSnippet, idxAddressLine1, idxLocality, idxCountry,
		idxPostalCode, idxLinksSelf, idxCreated, idxCeased, idxRank,
	},
	SignatureKeys: []Field{
		idxCompanyNumber, idxTitle, idxKind, idxCompanyStatus, idxCompanyType,
		idxSnippet, idxAddressSnippet, idxAddressLine1, idxLocality, idxCountry,
		idxPostalCode,
	},
	Extra: baseColumns,
}

// Company profile fields.
var (
	detCompanyNumber   = Field{Column: ColumnCompanyNumber, Path: "company_number"}
	detCompanyName     = Field{Column: "company_name", Path: "company_name"}
	detCompanyStatus   = Field{Column: ColumnCompanyStatus, Path: "company_status"}
	detCreated         = Field{Column: "date_of_creation", Path: "date_of_creation", Kind: Date}
	detEtag            = Field{Column: "etag", Path: "etag"}
	detLiquidated      = Field{Column: "has_been_liquidated", Path: "has_been_liquidated", Kind: Bool}
	detCharges         = Field{Column: "has_charges", Path: "has_charges", Kind: Bool}
	detInsolvency      = Field{Column: "has_insolvency_history", Path: "has_insolvency_history", Kind: Bool}
	detJurisdiction    = Field{Column: "jurisdiction", Path: "jurisdiction"}
	detMembersList     = Field{Column: "last_full_members_list_date", Path: "last_full_members_list_date", Kind: Date}
	detAddressLine1    = Field{Column: "registered_address_line_1", Path: "address_line_1", Parent: "registered_office_address"}
	detAddressLine2    = Field{Column: "registered_address_line_2", Path: "address_line_2", Parent: "registered_office_address"}
	detLocality        = Field{Column: "registered_address_locality", Path: "locality", Parent: "registered_office_address"}
	detCountry         = Field{Column: "registered_address_country", Path: "country", Parent: "registered_office_address"}
	detPostalCode      = Field{Column: "registered_address_postal_code", Path: "postal_code", Parent: "registered_office_address"}
	detSICCodes        = Field{Column: "sic_codes", Path: "sic_codes"}
	detType            = Field{Column: "type", Path: "type"}
	detInDispute       = Field{Column: "registered_office_is_in_dispute", Path: "registered_office_is_in_dispute", Kind: Bool}
	detUndeliverable   = Field{Column: "undeliverable_registered_office_address", Path: "undeliverable_registered_office_address", Kind: Bool}
	detSuperSecure     = Field{Column: "has_super_secure_pscs", Path: "has_super_secure_pscs", Kind: Bool}
	detLinksSelf       = Field{Column: ColumnLinksSelf, Path: "self", Parent: "links"}
	detLinksPSC        = Field{Column: "links_persons_with_significant_control", Path: "persons_with_significant_control", Parent: "links"}
	detLinksFiling     = Field{Column: "links_filing_history", Path: "filing_history", Parent: "links"}
	detLinksOfficers   = Field{Column: "links_officers", Path: "officers", Parent: "links"}
	detAccounts        = Field{Column: "accounts_json", Path: "accounts", Kind: JSON}
	detConfirmationStm = Field{Column: "confirmation_statement_json", Path: "confirmation_statement", Kind: JSON}
)

// CompanyDetails holds fully normalized company profiles. Each row records
// the index signature that caused it to be fetched, and that signature is
// part of the row's identity: a refetch under a new index entry is stored
// even when the profile itself is unchanged.
var CompanyDetails = &Target{
	Name:       CompanyDetailsName,
	Table:      CompanyDetailsName,
	Identifier: ColumnCompanyNumber,
	Fields: []Field{
		detCompanyNumber, detCompanyName, detCompanyStatus, detCreated, detEtag,
		detLiquidated, detCharges, detInsolvency, detJurisdiction, detMembersList,
		detAddressLine1, detAddressLine2, detLocality, detCountry, detPostalCode,
		detSICCodes, detType, detInDispute, detUndeliverable, detSuperSecure,
		detLinksSelf, detLinksPSC, detLinksFiling, detLinksOfficers,
		detAccounts, detConfirmationStm,
	},
	SignatureKeys: []Field{
		detCompanyNumber, detCompanyName, detCompanyStatus, detCreated,
		detAddressLine1, detPostalCode,
	},
	SignatureRefs: []string{models.ColumnIndexRowSignature},
	Extra: append(append([]Column{}, baseColumns...),
		Column{Name: models.ColumnIndexRowSignature, Kind: String}),
}
