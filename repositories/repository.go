// Package repositories holds the SQL for the registry tables. Every method takes a
// database.Querier so the same query can run on the pool or inside a transaction.
package repositories

import (
	"strings"

	"github.com/huandu/go-sqlbuilder"

	"github.com/giygas/drug-registry/database"
)

const (
	tableDrugs          = "drugs"
	tableDrugHistory    = "drug_history"
	tableStaging        = "drug_staging"
	tableStagingHistory = "drug_staging_history"
	tableDiseases       = "diseases"
	tableLinks          = "drug_disease_links"
	tableKnowledgeBase  = "knowledge_base"
)

// fieldColumns are the DrugFields columns, in struct order.
var fieldColumns = []string{
	"name", "active_ingredient", "manufacturer", "registration_number",
	"indication", "synonyms", "classification", "note",
}

// Repository builds queries in the flavor of the connected driver.
type Repository struct {
	flavor  sqlbuilder.Flavor
	locking bool
}

// New returns a repository for db's driver.
func New(db *database.DB) *Repository {
	return &Repository{flavor: db.Flavor(), locking: db.IsPostgres()}
}

// forUpdate appends a row lock when the backend supports it. SQLite serializes
// writers on its own.
func (r *Repository) forUpdate(query string) string {
	if r.locking {
		return query + " FOR UPDATE"
	}
	return query
}

func columns(groups ...[]string) []string {
	var out []string
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern builds a LIKE pattern matching s anywhere, with s's own
// metacharacters escaped.
func containsPattern(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}
