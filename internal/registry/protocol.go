package registry

import "github.com/kilupskalvis/regsync/internal/models"

const (
	searchPath = "/search/companies"
	detailPath = "/company/"
)

// searchResponse is the body of a company search.
type searchResponse struct {
	Items        []models.SourceRecord `json:"items"`
	TotalResults int                   `json:"total_results"`
	StartIndex   int                   `json:"start_index"`
	ItemsPerPage int                   `json:"items_per_page"`
}
